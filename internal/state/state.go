// Package state implements the replicated game-state model: snapshots,
// sparse deltas, their composition/application laws, and the store that
// holds the authoritative state plus a bounded cache of recent updates.
package state

import (
	"maps"

	"pygase/internal/protocol"
)

// GameStatus is the mandatory lifecycle attribute every GameState carries.
// Exactly two values are defined; additional lifecycle states are
// deliberately not added without a protocol-version change.
type GameStatus int64

const (
	Paused GameStatus = iota
	Active
)

func (g GameStatus) String() string {
	if g == Active {
		return "Active"
	}
	return "Paused"
}

// gameStatusKey is the reserved attribute key carrying GameStatus, encoded
// as an int64 so it round-trips through the same primitive value codec as
// every other attribute.
const gameStatusKey = "game_status"

// GameState is an open-attribute snapshot. TimeOrder and GameStatus are
// mandatory; everything else lives in Attributes and is user-defined.
type GameState struct {
	TimeOrder  protocol.SequenceNumber
	Attributes map[string]any
}

// NewGameState constructs a GameState with the mandatory game_status
// attribute folded in alongside the caller-supplied attributes.
func NewGameState(timeOrder protocol.SequenceNumber, status GameStatus, attrs map[string]any) GameState {
	merged := make(map[string]any, len(attrs)+1)
	maps.Copy(merged, attrs)
	merged[gameStatusKey] = int64(status)
	return GameState{TimeOrder: timeOrder, Attributes: merged}
}

// Status returns the state's game_status attribute.
func (s GameState) Status() GameStatus {
	if v, ok := s.Attributes[gameStatusKey].(int64); ok {
		return GameStatus(v)
	}
	return Paused
}

// Clone returns a deep-enough copy: a fresh attribute map with the same
// values. Callers must not mutate a GameState obtained from the store, so
// Clone is what CurrentState hands out.
func (s GameState) Clone() GameState {
	cloned := make(map[string]any, len(s.Attributes))
	maps.Copy(cloned, s.Attributes)
	return GameState{TimeOrder: s.TimeOrder, Attributes: cloned}
}

// GameStateUpdate is the same shape as GameState but sparse: only changed
// keys are present. protocol.ToDelete marks a key for removal.
type GameStateUpdate struct {
	TimeOrder  protocol.SequenceNumber
	Attributes map[string]any
}

// NewStatusUpdate builds a GameStateUpdate that changes only game_status.
func NewStatusUpdate(timeOrder protocol.SequenceNumber, status GameStatus) GameStateUpdate {
	return GameStateUpdate{TimeOrder: timeOrder, Attributes: map[string]any{gameStatusKey: int64(status)}}
}

// Clone returns a shallow copy of the update with its own attribute map.
func (u GameStateUpdate) Clone() GameStateUpdate {
	cloned := make(map[string]any, len(u.Attributes))
	maps.Copy(cloned, u.Attributes)
	return GameStateUpdate{TimeOrder: u.TimeOrder, Attributes: cloned}
}

// Compose merges two updates, u1 assumed to have occurred no later than
// u2: the result's TimeOrder is the max of the two, and for each key the
// value from u2 wins when present, else the value from u1 is kept
// (including a pending TO_DELETE). Associative when time orders increase
// monotonically across a chain of composes.
func Compose(u1, u2 GameStateUpdate, max protocol.SequenceNumber) GameStateUpdate {
	merged := make(map[string]any, len(u1.Attributes)+len(u2.Attributes))
	maps.Copy(merged, u1.Attributes)
	maps.Copy(merged, u2.Attributes)

	timeOrder := u1.TimeOrder
	if u1.TimeOrder == 0 || u2.TimeOrder.NewerThan(u1.TimeOrder, max) {
		timeOrder = u2.TimeOrder
	}
	return GameStateUpdate{TimeOrder: timeOrder, Attributes: merged}
}

// Apply overwrites state's keys with update's (removing TO_DELETE keys),
// advancing state.TimeOrder to update.TimeOrder only if the update is
// newer (every update is newer than a state whose TimeOrder is 0, "never").
// Applying a TO_DELETE for an already-absent key is a no-op.
func Apply(s GameState, u GameStateUpdate, max protocol.SequenceNumber) GameState {
	merged := make(map[string]any, len(s.Attributes)+len(u.Attributes))
	maps.Copy(merged, s.Attributes)
	for k, v := range u.Attributes {
		if v == protocol.ToDelete {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}

	timeOrder := s.TimeOrder
	if s.TimeOrder == 0 || u.TimeOrder.NewerThan(s.TimeOrder, max) {
		timeOrder = u.TimeOrder
	}
	return GameState{TimeOrder: timeOrder, Attributes: merged}
}

// FullUpdate converts a snapshot into an update carrying every attribute,
// used both to seed a store and to resynchronize a client whose last
// known time_order fell outside the update cache.
func FullUpdate(s GameState) GameStateUpdate {
	attrs := make(map[string]any, len(s.Attributes))
	maps.Copy(attrs, s.Attributes)
	return GameStateUpdate{TimeOrder: s.TimeOrder, Attributes: attrs}
}
