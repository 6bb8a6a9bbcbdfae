package connection

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pygase/internal/protocol"
)

// AckCallback fires once when the datagram carrying an event is acked.
type AckCallback func()

// TimeoutCallback fires once when an event's retry budget is exhausted
// without an ack, or the connection dies with the event still pending.
type TimeoutCallback func()

type outgoingEvent struct {
	event       protocol.Event
	reliable    bool
	retriesLeft int
	ackCB       AckCallback
	timeoutCB   TimeoutCallback
}

type pendingEvent struct {
	event     protocol.Event
	retries   int
	ackCB     AckCallback
	timeoutCB TimeoutCallback
	queuedAt  time.Time
}

// BuildBody produces the bytes to follow the header on the next send,
// given the events chosen to attach this tick. Role-specific (Client vs
// Server shape) logic lives in the closure supplied at construction.
type BuildBody func(events []protocol.Event) ([]byte, error)

// DecodeBody parses the bytes following the header. extra is opaque to
// Connection and handed to OnDecoded (a client's received update, or a
// server's received client time_order).
type DecodeBody func(body []byte) (events []protocol.Event, extra any, err error)

// Connection is the per-peer transport engine described by the
// specification's connection design: a sender loop paced by the current
// Quality, a receiver that maintains sequence/ack bookkeeping, and a
// retry supervisor for reliable events.
type Connection struct {
	remoteAddr net.Addr
	cfg        Config
	max        protocol.SequenceNumber
	logger     *zap.Logger
	metrics    Metrics

	write      func(data []byte) error
	buildBody  BuildBody
	decodeBody DecodeBody
	onDecoded  func(extra any)
	onEvents   func(events []protocol.Event)
	onClosed   func()

	mu             sync.Mutex
	localSeq       protocol.SequenceNumber
	remoteSeq      protocol.SequenceNumber
	ackBitfield    uint32
	sentAt         map[protocol.SequenceNumber]time.Time
	pendingBySeq   map[protocol.SequenceNumber][]*pendingEvent
	outgoing       []outgoingEvent
	latencyMs      float64
	status         Status
	quality        Quality
	connectingSeen bool
	lastReceived   time.Time

	badSince        time.Time
	goodSince       time.Time
	badHoldCurrent  time.Duration
	goodHoldCurrent time.Duration
	lastTransition  time.Time

	limiter *rate.Limiter

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closedOnce sync.Once
}

// New constructs a Connection. write performs the actual datagram send
// (net.UDPConn.Write for a client's single peer, or a WriteToUDP closure
// for a server connection); buildBody/decodeBody/onDecoded/onEvents wire
// in the role-specific wire shape and event delivery; onClosed is invoked
// once after the connection is torn down (by dead-peer detection or an
// explicit Close), so its owner can remove it from a connection map.
func New(
	remoteAddr net.Addr,
	cfg Config,
	max protocol.SequenceNumber,
	write func([]byte) error,
	buildBody BuildBody,
	decodeBody DecodeBody,
	onDecoded func(extra any),
	onEvents func(events []protocol.Event),
	onClosed func(),
	metrics Metrics,
	logger *zap.Logger,
) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NopMetrics
	}
	return &Connection{
		remoteAddr:      remoteAddr,
		cfg:             cfg,
		max:             max,
		logger:          logger,
		metrics:         metrics,
		write:           write,
		buildBody:       buildBody,
		decodeBody:      decodeBody,
		onDecoded:       onDecoded,
		onEvents:        onEvents,
		onClosed:        onClosed,
		sentAt:          make(map[protocol.SequenceNumber]time.Time),
		pendingBySeq:    make(map[protocol.SequenceNumber][]*pendingEvent),
		status:          Disconnected,
		quality:         Good,
		badHoldCurrent:  cfg.BadHold,
		goodHoldCurrent: cfg.GoodHold,
		limiter:         rate.NewLimiter(rate.Limit(cfg.GoodRateHz), 1),
	}
}

// RemoteAddr returns the peer address this connection was constructed for.
func (c *Connection) RemoteAddr() net.Addr { return c.remoteAddr }

// Status returns the current liveness status.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Quality returns the current link-quality classification.
func (c *Connection) Quality() Quality {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quality
}

// LatencyMs returns the current EWMA round-trip-time estimate.
func (c *Connection) LatencyMs() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latencyMs
}

// LastReceived returns the time of the most recently received datagram.
func (c *Connection) LastReceived() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReceived
}

// DispatchEvent queues e to be attached to an upcoming outgoing datagram.
// An event becomes "reliable" (tracked for ack/retry) when retries > 0 or
// either callback is non-nil; otherwise it is sent best-effort once.
func (c *Connection) DispatchEvent(e protocol.Event, retries int, ackCB AckCallback, timeoutCB TimeoutCallback) {
	reliable := retries > 0 || ackCB != nil || timeoutCB != nil
	c.mu.Lock()
	c.outgoing = append(c.outgoing, outgoingEvent{
		event: e, reliable: reliable, retriesLeft: retries, ackCB: ackCB, timeoutCB: timeoutCB,
	})
	c.mu.Unlock()
}

// Start launches the sender, retry-supervisor and liveness-monitor
// goroutines. Start must be called at most once per Connection.
func (c *Connection) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	c.ctx = loopCtx
	c.cancel = cancel
	now := time.Now()
	c.mu.Lock()
	c.lastReceived = now
	c.mu.Unlock()

	c.wg.Add(3)
	go c.senderLoop()
	go c.retrySupervisorLoop()
	go c.livenessLoop()
}

// Close cancels the connection's loops, fires timeout callbacks for any
// events still pending, and invokes onClosed exactly once. Idempotent.
func (c *Connection) Close() {
	c.closedOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()

		c.mu.Lock()
		c.status = Disconnected
		pending := c.pendingBySeq
		c.pendingBySeq = make(map[protocol.SequenceNumber][]*pendingEvent)
		c.mu.Unlock()

		for _, events := range pending {
			for _, pe := range events {
				if pe.timeoutCB != nil {
					go pe.timeoutCB()
				}
			}
		}
		if c.onClosed != nil {
			c.onClosed()
		}
	})
}

func (c *Connection) senderLoop() {
	defer c.wg.Done()
	for {
		if err := c.limiter.Wait(c.ctx); err != nil {
			return
		}
		c.sendTick()
	}
}

// sendTick selects as many queued events as fit under the configured
// datagram size, builds and records the header/bookkeeping for them,
// and hands the finished datagram off to write. Selection and
// bookkeeping happen under one continuous lock hold so a DispatchEvent
// call racing with this tick either lands entirely in this datagram's
// selection or entirely in the next one, never silently dropped.
func (c *Connection) sendTick() {
	c.mu.Lock()
	queue := c.outgoing

	var attachedEvents []protocol.Event
	var attachedMeta []outgoingEvent
	var body []byte
	for _, oe := range queue {
		candidate := append(append([]protocol.Event{}, attachedEvents...), oe.event)
		encoded, err := c.buildBody(candidate)
		if err != nil {
			if _, overflow := err.(*protocol.ErrSizeOverflow); overflow {
				break
			}
			c.logger.Warn("failed to encode outgoing body", zap.Error(err))
			break
		}
		attachedEvents = candidate
		attachedMeta = append(attachedMeta, oe)
		body = encoded
	}
	if body == nil {
		encoded, err := c.buildBody(nil)
		if err != nil {
			c.mu.Unlock()
			c.logger.Warn("failed to encode empty outgoing body", zap.Error(err))
			return
		}
		body = encoded
	}

	c.outgoing = append([]outgoingEvent{}, queue[len(attachedMeta):]...)
	c.localSeq = c.localSeq.Next(c.max)
	seq := c.localSeq
	header := protocol.Header{Sequence: c.localSeq, Ack: c.remoteSeq, AckBitfield: c.ackBitfield}
	c.sentAt[seq] = time.Now()
	for _, oe := range attachedMeta {
		if !oe.reliable {
			continue
		}
		retries := oe.retriesLeft
		if retries == 0 && (oe.ackCB != nil || oe.timeoutCB != nil) {
			retries = c.cfg.DefaultRetries
		}
		c.pendingBySeq[seq] = append(c.pendingBySeq[seq], &pendingEvent{
			event: oe.event, retries: retries, ackCB: oe.ackCB, timeoutCB: oe.timeoutCB, queuedAt: time.Now(),
		})
	}
	c.mu.Unlock()

	datagram, err := protocol.EncodeDatagram(c.cfg.SequenceWidth, c.cfg.MaxDatagramSize, header, body)
	if err != nil {
		c.logger.Warn("failed to encode datagram", zap.Error(err))
		return
	}
	if err := c.write(datagram); err != nil {
		c.logger.Debug("datagram write failed", zap.Error(err))
		return
	}
	c.metrics.DatagramSent()
}
