// Package pygase re-exports the shared vocabulary of the replicated
// game-state model and wire protocol, so users of pygase/server and
// pygase/client construct time_step functions and event handlers
// against these types without reaching into internal packages.
package pygase

import (
	"context"

	"pygase/internal/protocol"
	"pygase/internal/state"
)

// SequenceNumber is a time_order / ack sequence value. Zero means
// "never sent/received"; ordering wraps cyclically at Max.
type SequenceNumber = protocol.SequenceNumber

// GameStatus is the mandatory game_status attribute every GameState
// carries alongside user-defined attributes; a GameStateUpdate carries it
// only when the status changes.
type GameStatus = state.GameStatus

const (
	// Paused is the initial/idle lifecycle state.
	Paused = state.Paused
	// Active is the lifecycle state while the simulation loop is running.
	Active = state.Active
)

// GameState is an authoritative or mirrored snapshot of the replicated
// attribute map.
type GameState = state.GameState

// GameStateUpdate is a sparse delta against a GameState: only changed
// keys are present, and ToDelete marks a key for removal.
type GameStateUpdate = state.GameStateUpdate

// ToDelete is the sentinel value that marks an attribute for removal
// when it appears in a GameStateUpdate's Attributes.
var ToDelete = protocol.ToDelete

// NewGameState constructs a GameState, folding game_status into attrs.
func NewGameState(timeOrder SequenceNumber, status GameStatus, attrs map[string]any) GameState {
	return state.NewGameState(timeOrder, status, attrs)
}

// Event is a named, data-carrying message exchanged between a client and
// server, optionally tracked for acknowledgement and retry.
type Event = protocol.Event

// ShutdownEventType is the reserved event type that, when dispatched by
// the host client, requests the server shut down. Dispatching it as any
// other client is a no-op on the server side.
const ShutdownEventType = protocol.ShutdownEventType

// AckCallback fires once when a reliably-dispatched event's datagram is
// acknowledged by the peer.
type AckCallback func()

// TimeoutCallback fires once when a reliably-dispatched event's retry
// budget is exhausted without an acknowledgement, or the connection it
// was sent over is torn down while the event is still pending.
type TimeoutCallback func()

// EventHandler is the callback invoked when a registered event type is
// dispatched to the simulation loop. args/kwargs come from the Event;
// kwargs additionally carries injected keys (game_state, client_address,
// dt for state-machine handlers) that always take precedence over the
// event's own keyword arguments of the same name. The returned map (nil
// for none) is merged into the tick's patch.
type EventHandler func(ctx context.Context, args []any, kwargs map[string]any) (map[string]any, error)
