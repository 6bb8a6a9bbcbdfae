package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pygase/internal/protocol"
)

func TestStore_PushUpdateAdvancesCurrentState(t *testing.T) {
	initial := NewGameState(0, Paused, map[string]any{"hp": int64(100)})
	store := NewStore(initial, 4, testMax, nil)

	store.PushUpdate(GameStateUpdate{TimeOrder: 1, Attributes: map[string]any{"hp": int64(90)}})
	store.PushUpdate(GameStateUpdate{TimeOrder: 2, Attributes: map[string]any{"mp": int64(3)}})

	current := store.CurrentState()
	require.Equal(t, protocol.SequenceNumber(2), current.TimeOrder)
	require.Equal(t, int64(90), current.Attributes["hp"])
	require.Equal(t, int64(3), current.Attributes["mp"])
}

func TestStore_UpdatesSinceComposesCachedRange(t *testing.T) {
	initial := NewGameState(0, Active, map[string]any{"hp": int64(100)})
	store := NewStore(initial, 10, testMax, nil)

	for i := protocol.SequenceNumber(1); i <= 5; i++ {
		store.PushUpdate(GameStateUpdate{TimeOrder: i, Attributes: map[string]any{"hp": int64(100 - 10*int64(i))}})
	}

	delta := store.UpdatesSince(2)
	require.Equal(t, protocol.SequenceNumber(5), delta.TimeOrder)
	require.Equal(t, int64(50), delta.Attributes["hp"])
}

func TestStore_UpdatesSinceFromZeroIsFullState(t *testing.T) {
	initial := NewGameState(0, Active, map[string]any{"hp": int64(100), "mp": int64(5)})
	store := NewStore(initial, 10, testMax, nil)
	store.PushUpdate(GameStateUpdate{TimeOrder: 1, Attributes: map[string]any{"hp": int64(90)}})

	delta := store.UpdatesSince(0)
	require.Equal(t, int64(90), delta.Attributes["hp"])
	require.Equal(t, int64(5), delta.Attributes["mp"], "a fresh client must receive every attribute, not just the changed one")
}

func TestStore_CacheMissTriggersFullResync(t *testing.T) {
	initial := NewGameState(0, Active, map[string]any{"hp": int64(100)})
	store := NewStore(initial, 3, testMax, nil)

	// push more updates than the cache can retain
	for i := protocol.SequenceNumber(1); i <= 6; i++ {
		store.PushUpdate(GameStateUpdate{TimeOrder: i, Attributes: map[string]any{"tick": int64(i)}})
	}

	// client's last known time_order (1) was evicted from the cache
	delta := store.UpdatesSince(1)
	current := store.CurrentState()
	require.Equal(t, current.TimeOrder, delta.TimeOrder)
	require.Equal(t, current.Attributes, delta.Attributes, "cache miss must yield the full current state")
}

func TestStore_UpToDateClientGetsEmptyDelta(t *testing.T) {
	initial := NewGameState(0, Active, map[string]any{"hp": int64(100)})
	store := NewStore(initial, 10, testMax, nil)
	store.PushUpdate(GameStateUpdate{TimeOrder: 1, Attributes: map[string]any{"hp": int64(90)}})

	delta := store.UpdatesSince(1)
	require.Equal(t, protocol.SequenceNumber(1), delta.TimeOrder)
	require.Empty(t, delta.Attributes)
}

func TestStore_CurrentStateSnapshotIsIndependent(t *testing.T) {
	initial := NewGameState(0, Active, map[string]any{"hp": int64(100)})
	store := NewStore(initial, 10, testMax, nil)

	snap := store.CurrentState()
	snap.Attributes["hp"] = int64(1) // mutate the caller's copy

	require.Equal(t, int64(100), store.CurrentState().Attributes["hp"], "mutating a returned snapshot must not affect the store")
}
