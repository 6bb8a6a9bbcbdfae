package connection

import (
	"time"

	"go.uber.org/zap"

	"pygase/internal/protocol"
)

// HandleDatagram is fed every datagram read from the socket for this
// peer. It performs duplicate detection, maintains the local view of the
// remote sequence and ack bitfield, resolves acks for previously sent
// reliable events, and finally decodes and delivers the body.
func (c *Connection) HandleDatagram(data []byte) {
	header, rawBody, err := protocol.DecodeDatagram(data, c.cfg.SequenceWidth)
	if err != nil {
		c.metrics.DatagramDropped("decode_error")
		c.logger.Debug("dropped undecodable datagram", zap.Error(err))
		return
	}

	c.mu.Lock()
	duplicate := c.isDuplicateLocked(header.Sequence)
	if !duplicate {
		c.advanceRemoteLocked(header.Sequence)
	}
	c.resolveAcksLocked(header.Ack, header.AckBitfield)
	now := time.Now()
	c.lastReceived = now
	wasDisconnected := c.status == Disconnected
	c.mu.Unlock()

	c.metrics.DatagramReceived()
	if duplicate {
		c.metrics.DatagramDropped("duplicate")
		return
	}

	if wasDisconnected {
		c.promote(Connecting)
	} else if c.Status() == Connecting {
		c.promote(Connected)
	}

	events, extra, err := c.decodeBody(rawBody)
	if err != nil {
		c.logger.Debug("dropped body with decode error", zap.Error(err))
		return
	}
	if c.onDecoded != nil {
		c.onDecoded(extra)
	}
	if len(events) > 0 && c.onEvents != nil {
		c.onEvents(events)
	}
}

func (c *Connection) promote(to Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if to > c.status {
		c.status = to
	}
}

// isDuplicateLocked reports whether seq has already been recorded as
// received, under the caller's hold of c.mu.
func (c *Connection) isDuplicateLocked(seq protocol.SequenceNumber) bool {
	if c.remoteSeq == 0 {
		return false
	}
	d := seq.Distance(c.remoteSeq, c.max)
	if d > 0 {
		return false
	}
	if d == 0 {
		return true
	}
	offset := -d
	if offset > 32 {
		return false
	}
	return c.ackBitfield&(1<<uint(offset-1)) != 0
}

// advanceRemoteLocked folds a newly-seen, non-duplicate sequence number
// into remoteSeq and the ack bitfield. When seq is newer than remoteSeq,
// the bitfield shifts left by the distance d and the previous remoteSeq's
// bit is inserted at position d-1 (bit 0 when seq directly follows it),
// since it is now d behind the new remoteSeq. When seq is older (a reordered but unseen datagram), its
// bit is simply set without shifting anything.
func (c *Connection) advanceRemoteLocked(seq protocol.SequenceNumber) {
	if c.remoteSeq == 0 {
		c.remoteSeq = seq
		c.ackBitfield = 0
		return
	}
	d := seq.Distance(c.remoteSeq, c.max)
	if d > 0 {
		shift := uint(d)
		var bitfield uint32
		if shift <= 32 {
			bitfield = (c.ackBitfield << shift) | (1 << (shift - 1))
		}
		c.ackBitfield = bitfield
		c.remoteSeq = seq
		return
	}
	offset := -d
	if offset > 0 && offset <= 32 {
		c.ackBitfield |= 1 << uint(offset-1)
	}
}

// resolveAcksLocked walks ack plus every set bit in bitfield, matching
// each represented sequence number against pendingBySeq, firing ack
// callbacks for matches and feeding the round-trip sample into the
// latency EWMA.
func (c *Connection) resolveAcksLocked(ack protocol.SequenceNumber, bitfield uint32) {
	if ack == 0 {
		return
	}
	c.resolveOneLocked(ack)
	for bit := uint(0); bit < 32; bit++ {
		if bitfield&(1<<bit) == 0 {
			continue
		}
		seq := subtractWrap(ack, bit+1, c.max)
		c.resolveOneLocked(seq)
	}
}

func (c *Connection) resolveOneLocked(seq protocol.SequenceNumber) {
	if sentAt, ok := c.sentAt[seq]; ok {
		sample := float64(time.Since(sentAt).Milliseconds())
		if c.latencyMs == 0 {
			c.latencyMs = sample
		} else {
			c.latencyMs = 0.9*c.latencyMs + 0.1*sample
		}
		delete(c.sentAt, seq)
	}

	pending, ok := c.pendingBySeq[seq]
	if !ok {
		return
	}
	delete(c.pendingBySeq, seq)
	for _, pe := range pending {
		if pe.ackCB != nil {
			go pe.ackCB()
		}
		c.metrics.EventAcked()
	}
}

// subtractWrap computes base - offset on the cyclic sequence ring,
// wrapping through 0 (skipping it, since 0 is reserved) back to max.
func subtractWrap(base protocol.SequenceNumber, offset uint, max protocol.SequenceNumber) protocol.SequenceNumber {
	v := int64(base) - int64(offset)
	m := int64(max)
	for v <= 0 {
		v += m
	}
	return protocol.SequenceNumber(v)
}
