// Package statemachine runs the simulation loop: drain queued events,
// dispatch them to handlers, call the user time_step, merge the results
// into a GameStateUpdate, and push it to the store.
package statemachine

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"pygase/internal/eventbus"
	"pygase/internal/protocol"
	"pygase/internal/state"
)

// DefaultInterval is the default simulation tick interval Δ.
const DefaultInterval = 20 * time.Millisecond

// TimeStep is the user-supplied simulation function: given a read-only
// snapshot and the elapsed wall-clock time since the last tick, it
// returns a patch of attributes to apply.
type TimeStep func(ctx context.Context, snapshot state.GameState, dt time.Duration) (map[string]any, error)

type queuedEvent struct {
	event      protocol.Event
	clientAddr net.Addr
}

// Machine owns a Store reference and drives it with a user TimeStep.
// Starting twice is a no-op; stopping a stopped Machine is a no-op.
type Machine struct {
	store    *state.Store
	handlers *eventbus.Registry
	timeStep TimeStep
	interval time.Duration
	max      protocol.SequenceNumber
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	events  chan queuedEvent
}

// New constructs a Machine. handlers is the event-handler registry
// consulted during each tick's event-drain phase (distinct from any
// server-side receive-path registry).
func New(store *state.Store, handlers *eventbus.Registry, timeStep TimeStep, interval time.Duration, max protocol.SequenceNumber, logger *zap.Logger) *Machine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		store:    store,
		handlers: handlers,
		timeStep: timeStep,
		interval: interval,
		max:      max,
		logger:   logger,
		events:   make(chan queuedEvent, 256),
	}
}

// Handlers returns the registry backing the simulation loop's event
// dispatch, so callers can register/replace handlers for event types.
func (m *Machine) Handlers() *eventbus.Registry {
	return m.handlers
}

// PushEvent enqueues a received event for dispatch on the next tick. This
// is the event_wire: the one-way channel by which a server feeds received
// events into the simulation loop.
func (m *Machine) PushEvent(e protocol.Event, clientAddr net.Addr) {
	select {
	case m.events <- queuedEvent{event: e, clientAddr: clientAddr}:
	default:
		m.logger.Warn("event queue full, dropping event", zap.String("type", e.Type))
	}
}

// Start begins the simulation loop. A second call while already running
// is a no-op.
func (m *Machine) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	m.store.PushUpdate(m.nextStatusUpdate(state.Active))

	go m.run(loopCtx)
}

// Stop requests the loop exit after finishing its current iteration, and
// blocks up to timeout for it to do so. It reports whether the loop
// stopped in time. Calling Stop on an already-stopped Machine is a no-op
// that reports success.
func (m *Machine) Stop(timeout time.Duration) bool {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return true
	}
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()

	select {
	case <-done:
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		m.store.PushUpdate(m.nextStatusUpdate(state.Paused))
		return true
	case <-time.After(timeout):
		return false
	}
}

func (m *Machine) nextStatusUpdate(status state.GameStatus) state.GameStateUpdate {
	current := m.store.CurrentState()
	next := current.TimeOrder.Next(m.max)
	return state.NewStatusUpdate(next, status)
}

func (m *Machine) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			m.tick(ctx, dt)
		}
	}
}

func (m *Machine) tick(ctx context.Context, dt time.Duration) {
	snapshot := m.store.CurrentState()

	patches := make([]map[string]any, 0, 4)
	for {
		select {
		case qe := <-m.events:
			injected := map[string]any{
				"game_state":     snapshot,
				"client_address": qe.clientAddr,
				"dt":             dt,
			}
			patch, err := m.handlers.Handle(ctx, qe.event, injected)
			if err != nil {
				m.logger.Warn("event handler failed", zap.String("type", qe.event.Type), zap.Error(err))
				continue
			}
			if patch != nil {
				patches = append(patches, patch)
			}
		default:
			goto drained
		}
	}
drained:

	ownPatch, err := m.timeStep(ctx, snapshot, dt)
	if err != nil {
		m.logger.Warn("time_step failed", zap.Error(err))
	} else if ownPatch != nil {
		patches = append(patches, ownPatch)
	}

	if len(patches) == 0 {
		return
	}

	merged := make(map[string]any)
	for _, p := range patches {
		for k, v := range p {
			merged[k] = v
		}
	}

	update := state.GameStateUpdate{
		TimeOrder:  snapshot.TimeOrder.Next(m.max),
		Attributes: merged,
	}
	m.store.PushUpdate(update)
}
