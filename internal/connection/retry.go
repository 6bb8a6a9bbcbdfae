package connection

import "time"

// retryTick is how often the retry supervisor sweeps pendingBySeq for
// timed-out entries. It runs independently of the send-rate limiter so
// retries keep firing even while the sender is paced slowly under Bad
// quality.
const retryTick = 50 * time.Millisecond

func (c *Connection) retrySupervisorLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(retryTick)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sweepPending()
		}
	}
}

// sweepPending re-queues or expires events whose sent datagram has sat
// unacked past cfg.EventTimeout. An event with retries remaining is
// requeued on the outgoing list and its retry budget decremented; one
// with no retries left fires its timeout callback and is dropped.
func (c *Connection) sweepPending() {
	now := time.Now()
	var toRequeue []outgoingEvent
	var toTimeout []*pendingEvent

	c.mu.Lock()
	for seq, entries := range c.pendingBySeq {
		sentAt, ok := c.sentAt[seq]
		if !ok || now.Sub(sentAt) < c.cfg.EventTimeout {
			continue
		}
		for _, pe := range entries {
			if pe.retries > 0 {
				toRequeue = append(toRequeue, outgoingEvent{
					event: pe.event, reliable: true, retriesLeft: pe.retries - 1,
					ackCB: pe.ackCB, timeoutCB: pe.timeoutCB,
				})
			} else {
				toTimeout = append(toTimeout, pe)
			}
		}
		delete(c.pendingBySeq, seq)
		delete(c.sentAt, seq)
	}
	c.outgoing = append(c.outgoing, toRequeue...)
	c.pruneStaleSentAtLocked(now)
	c.mu.Unlock()

	for range toRequeue {
		c.metrics.Retransmitted()
	}
	for _, pe := range toTimeout {
		c.metrics.EventTimedOut()
		if pe.timeoutCB != nil {
			go pe.timeoutCB()
		}
	}
}

// pruneStaleSentAtLocked drops sentAt bookkeeping for best-effort
// datagrams that were never acked and have no retry entry keeping them
// alive, so a lossy link doesn't grow sentAt without bound.
func (c *Connection) pruneStaleSentAtLocked(now time.Time) {
	for seq, sentAt := range c.sentAt {
		if _, pending := c.pendingBySeq[seq]; pending {
			continue
		}
		if now.Sub(sentAt) >= c.cfg.EventTimeout {
			delete(c.sentAt, seq)
		}
	}
}

// pendingCount reports how many reliable events are awaiting an ack,
// for diagnostics and tests.
func (c *Connection) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, entries := range c.pendingBySeq {
		n += len(entries)
	}
	return n
}
