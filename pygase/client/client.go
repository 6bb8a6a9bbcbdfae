// Package client implements the Client façade: one connection to a
// single server, plus a thread-safe mirror of the replicated game state.
// A Client owns exactly one connection.Connection and one state mirror;
// user code never reaches either directly, only through AccessGameState,
// DispatchEvent and RegisterEventHandler.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"pygase/internal/config"
	"pygase/internal/connection"
	"pygase/internal/eventbus"
	"pygase/internal/metrics"
	"pygase/internal/protocol"
	"pygase/internal/state"
	"pygase/internal/transport"
)

// DefaultHost is used by Connect when the caller passes an empty host,
// matching the spec's connect(port, host='localhost') default.
const DefaultHost = "localhost"

// AckCallback and TimeoutCallback mirror pygase's top-level callback
// types so callers need not import the pygase package just to dispatch
// an event.
type (
	AckCallback     = func()
	TimeoutCallback = func()
)

// Client is one connection to a server plus a local mirror of the
// replicated GameState. Construct with New, then Connect or
// ConnectInThread.
type Client struct {
	cfg       config.Config
	logger    *zap.Logger
	metrics   *metrics.Registry
	transport *transport.Client
	conn      *connection.Connection
	events    *eventbus.Registry
	max       protocol.SequenceNumber

	mu     sync.Mutex
	mirror state.GameState

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs a Client. eventHandlers (may be nil) seeds the
// receive-path handler registry keyed by event type.
func New(cfg config.Config, eventHandlers map[string]eventbus.Handler, logger *zap.Logger, metricsRegistry *metrics.Registry) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	handlers := eventbus.NewRegistry(logger)
	for t, h := range eventHandlers {
		handlers.Register(t, h)
	}
	return &Client{
		cfg:     cfg,
		logger:  logger,
		metrics: metricsRegistry,
		events:  handlers,
		max:     protocol.SequenceMax(cfg.Connection.SequenceWidth),
		mirror:  state.NewGameState(0, state.Paused, nil),
	}
}

// RegisterEventHandler installs fn as the handler for eventType on the
// receive path, replacing any previously registered handler for that
// type.
func (c *Client) RegisterEventHandler(eventType string, fn eventbus.Handler) {
	c.events.Register(eventType, fn)
}

// Connect dials host:port (DefaultHost if host is empty), starts the
// connection's sender/receiver/retry loops, and returns once the socket
// is bound. The connection's handshake (Disconnected -> Connecting ->
// Connected) happens asynchronously as datagrams are exchanged.
func (c *Client) Connect(ctx context.Context, port int, host string) error {
	if host == "" {
		host = DefaultHost
	}
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return fmt.Errorf("client: already connected")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	c.runMu.Unlock()

	tr := transport.NewClient(c.logger)
	if err := tr.Start(runCtx, host, port); err != nil {
		c.runMu.Lock()
		c.running = false
		c.runMu.Unlock()
		return err
	}
	c.transport = tr

	c.conn = connection.New(
		tr.RemoteAddr(),
		c.cfg.Connection.ToConnectionConfig(),
		c.max,
		tr.Write,
		c.buildBody,
		c.decodeBody,
		c.onDecoded,
		c.onEvents,
		func() {},
		c.metrics,
		c.logger,
	)
	tr.OnDatagram = c.conn.HandleDatagram
	c.conn.Start(runCtx)

	go func() {
		defer close(c.done)
		<-runCtx.Done()
		c.conn.Close()
		c.transport.Stop()
		c.runMu.Lock()
		c.running = false
		c.runMu.Unlock()
	}()
	return nil
}

// ConnectInThread runs Connect on its own goroutine and returns
// immediately with a channel that receives the connect
// error (or nil), matching the optional dedicated-thread scheduling
// model so callers may drive blocking APIs from another goroutine.
func (c *Client) ConnectInThread(ctx context.Context, port int, host string) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(ctx, port, host) }()
	return errCh
}

// Disconnect tears down the connection. If shutdownServer is true, it
// first dispatches the reserved shutdown event; the server honors it
// only if this client is its host_client (ShutdownRefused otherwise,
// silently dropped).
func (c *Client) Disconnect(shutdownServer bool) {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	cancel := c.cancel
	done := c.done
	c.runMu.Unlock()

	if shutdownServer && c.conn != nil {
		c.conn.DispatchEvent(protocol.Event{Type: protocol.ShutdownEventType}, 0, nil, nil)
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	<-done
}

// DispatchEvent queues e to be attached to an upcoming outgoing
// datagram. e becomes reliable (tracked for ack/retry) when retries > 0
// or either callback is non-nil.
func (c *Client) DispatchEvent(e protocol.Event, retries int, ackCB AckCallback, timeoutCB TimeoutCallback) {
	if c.conn == nil {
		c.logger.Warn("dispatch_event called before connect", zap.String("type", e.Type))
		return
	}
	c.conn.DispatchEvent(e, retries, connection.AckCallback(ackCB), connection.TimeoutCallback(timeoutCB))
}

// Status returns the connection's liveness status.
func (c *Client) Status() connection.Status {
	if c.conn == nil {
		return connection.Disconnected
	}
	return c.conn.Status()
}

// Quality returns the connection's link-quality classification.
func (c *Client) Quality() connection.Quality {
	if c.conn == nil {
		return connection.Good
	}
	return c.conn.Quality()
}

// LatencyMs returns the connection's current RTT EWMA estimate.
func (c *Client) LatencyMs() float64 {
	if c.conn == nil {
		return 0
	}
	return c.conn.LatencyMs()
}

// RemoteAddr returns the dialed server address.
func (c *Client) RemoteAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}

// StateAccessor holds the mirror's mutex for the duration of its scope.
// Callers must call Release exactly once (typically via defer
// immediately after AccessGameState returns) before the connection can
// apply the next received update to the mirror.
type StateAccessor struct {
	client *Client
}

// State returns the current mirrored GameState. The returned value must
// not be retained past Release: its Attributes map is shared with the
// mirror, not copied.
func (a *StateAccessor) State() state.GameState {
	return a.client.mirror
}

// Release unlocks the mirror mutex, allowing the connection to resume
// applying received updates.
func (a *StateAccessor) Release() {
	a.client.mu.Unlock()
}

// AccessGameState locks the mirror mutex and returns a scoped accessor.
// The connection will not update the mirror while the accessor's scope
// is live (i.e. until Release is called):
//
//	acc := client.AccessGameState()
//	defer acc.Release()
//	hp := acc.State().Attributes["hp"]
func (c *Client) AccessGameState() *StateAccessor {
	c.mu.Lock()
	return &StateAccessor{client: c}
}

// buildBody is the Client-shaped BuildBody: {time_order, events}, where
// time_order is the mirror's current time_order so the server knows
// where to resume the delta from.
func (c *Client) buildBody(events []protocol.Event) ([]byte, error) {
	c.mu.Lock()
	timeOrder := c.mirror.TimeOrder
	c.mu.Unlock()
	return protocol.EncodeClientBody(c.cfg.Connection.SequenceWidth, c.cfg.Connection.MaxDatagramSize, protocol.ClientBody{
		TimeOrder: timeOrder,
		Events:    events,
	})
}

// decodeBody is the Server-shaped DecodeBody: {update, events}. The
// decoded update is handed back as extra for onDecoded to apply.
func (c *Client) decodeBody(body []byte) ([]protocol.Event, any, error) {
	sb, err := protocol.DecodeServerBody(body)
	if err != nil {
		return nil, nil, err
	}
	update := state.GameStateUpdate{TimeOrder: sb.UpdateTimeOrder, Attributes: sb.UpdateAttrs}
	return sb.Events, update, nil
}

// onDecoded applies the received update to the mirror under the mirror
// mutex, advancing time_order only if the update is newer (the
// application law from the state model, §3).
func (c *Client) onDecoded(extra any) {
	update, ok := extra.(state.GameStateUpdate)
	if !ok {
		return
	}
	c.mu.Lock()
	c.mirror = state.Apply(c.mirror, update, c.max)
	c.mu.Unlock()
}

// onEvents dispatches every event in a received datagram to the
// registered handler, in the order they appear, injecting no extra
// context (a client has no game_state/dt/client_address concept of its
// own the way the simulation loop's handlers do).
func (c *Client) onEvents(events []protocol.Event) {
	for _, e := range events {
		if _, err := c.events.Handle(context.Background(), e, nil); err != nil {
			c.logger.Warn("event handler failed", zap.String("type", e.Type), zap.Error(err))
		}
	}
}
