// Package server implements the Backend façade: one UDP endpoint, a
// simulation loop, and a peer-address -> connection map. The first peer
// to connect becomes the host_client, trusted (advisory only, not
// cryptographically enforced) to request shutdown.
package server

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
	"pygase/internal/session"
	"pygase/internal/state"
	"pygase/internal/statemachine"
	"pygase/internal/transport"
)

// AckCallback and TimeoutCallback mirror pygase's top-level callback
// types so callers need not import the pygase package just to dispatch
// an event.
type (
	AckCallback     = func()
	TimeoutCallback = func()
)

// Backend owns the UDP socket, the simulation loop, and the peer
// registry. Construct with New, then Run (blocking) or RunInThread.
type Backend struct {
	cfg        config.Config
	logger     *zap.Logger
	metrics    *metrics.Registry
	transport  *transport.Server
	peers      *session.Registry
	store      *state.Store
	machine    *statemachine.Machine
	recvEvents *eventbus.Registry // server-side receive-path handlers
	max        protocol.SequenceNumber

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	ctx     context.Context
}

func (b *Backend) runCtx() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

// New constructs a Backend. initialState seeds the authoritative store;
// timeStep is called once per simulation tick; eventHandlers (may be
// nil) seeds the simulation loop's event-handler registry keyed by
// event type.
func New(cfg config.Config, initialState state.GameState, timeStep statemachine.TimeStep, eventHandlers map[string]eventbus.Handler, logger *zap.Logger, metricsRegistry *metrics.Registry) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	max := protocol.SequenceMax(cfg.Connection.SequenceWidth)

	handlers := eventbus.NewRegistry(logger)
	for t, h := range eventHandlers {
		handlers.Register(t, h)
	}

	store := state.NewStore(initialState, cfg.Simulation.CacheSize, max, logger)
	machine := statemachine.New(store, handlers, timeStep, cfg.Simulation.Interval, max, logger)

	peers := session.NewRegistry(0, 0, metricsRegistry)
	tr := transport.NewServer(cfg.Server, logger)

	b := &Backend{
		cfg:        cfg,
		logger:     logger,
		metrics:    metricsRegistry,
		transport:  tr,
		peers:      peers,
		store:      store,
		machine:    machine,
		recvEvents: eventbus.NewRegistry(logger),
		max:        max,
	}
	tr.OnDatagram = b.handleDatagram
	return b
}

// RegisterEventHandler installs fn as the simulation loop's handler for
// eventType (distinct from RegisterReceiveHandler: these run inside the
// tick, not on the receive path).
func (b *Backend) RegisterEventHandler(eventType string, fn eventbus.Handler) {
	b.machine.Handlers().Register(eventType, fn)
}

// Run binds the socket, starts the simulation loop and peer fan-out
// workers, and blocks until ctx is cancelled or Shutdown is called.
func (b *Backend) Run(ctx context.Context, host string, port int) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("server: already running")
	}
	b.cfg.Server.Host = host
	b.cfg.Server.Port = port
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running = true
	b.ctx = runCtx
	b.mu.Unlock()

	defer close(b.done)

	if err := b.transport.Start(runCtx); err != nil {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		return err
	}
	b.peers.StartFanoutWorkers()
	b.machine.Start(runCtx)

	<-runCtx.Done()
	b.teardown()
	return nil
}

// RunInThread launches Run on its own goroutine and returns immediately,
// matching the optional dedicated-thread scheduling model: callers that
// want blocking APIs from elsewhere use this instead of Run.
func (b *Backend) RunInThread(ctx context.Context, host string, port int) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(ctx, host, port) }()
	return errCh
}

// Shutdown cancels the run loop, drains pending connection callbacks
// (each fires its timeout callback), and closes the socket. Idempotent.
func (b *Backend) Shutdown() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	cancel := b.cancel
	done := b.done
	b.mu.Unlock()

	cancel()
	<-done
}

func (b *Backend) teardown() {
	b.machine.Stop(5 * time.Second)
	b.peers.Shutdown()
	b.transport.Stop()
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
}

// DispatchEvent enqueues e on the connection for targetAddr, or on every
// connection when targetAddr is nil ("all"). retries/ackCB/timeoutCB
// mirror Connection.DispatchEvent.
func (b *Backend) DispatchEvent(e protocol.Event, targetAddr net.Addr, retries int, ackCB AckCallback, timeoutCB TimeoutCallback) {
	dispatch := func(conn *connection.Connection) {
		conn.DispatchEvent(e, retries, connection.AckCallback(ackCB), connection.TimeoutCallback(timeoutCB))
	}
	if targetAddr == nil {
		b.peers.Broadcast(dispatch)
		return
	}
	if conn, ok := b.peers.Lookup(targetAddr); ok {
		dispatch(conn)
	}
}

// PeerCount returns the number of currently connected peers.
func (b *Backend) PeerCount() int { return b.peers.Count() }
