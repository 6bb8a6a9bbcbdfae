package statemachine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pygase/internal/eventbus"
	"pygase/internal/protocol"
	"pygase/internal/state"
)

const testMax = protocol.SequenceNumber(65535)

func TestMachine_HelloWorldTicksWithEmptyPatch(t *testing.T) {
	initial := state.NewGameState(0, state.Paused, map[string]any{"hp": int64(100)})
	store := state.NewStore(initial, 10, testMax, nil)
	handlers := eventbus.NewRegistry(nil)

	m := New(store, handlers, func(ctx context.Context, snap state.GameState, dt time.Duration) (map[string]any, error) {
		return map[string]any{}, nil
	}, 5*time.Millisecond, testMax, nil)

	m.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	ok := m.Stop(time.Second)
	require.True(t, ok)

	current := store.CurrentState()
	require.GreaterOrEqual(t, uint32(current.TimeOrder), uint32(1))
	require.Equal(t, int64(100), current.Attributes["hp"])
}

func TestMachine_DispatchesQueuedEventsBeforeTimeStep(t *testing.T) {
	initial := state.NewGameState(0, state.Paused, map[string]any{"hp": int64(100), "position": 0.0})
	store := state.NewStore(initial, 10, testMax, nil)
	handlers := eventbus.NewRegistry(nil)
	handlers.Register("ATTACK", func(ctx context.Context, args []any, kwargs map[string]any) (map[string]any, error) {
		snap := kwargs["game_state"].(state.GameState)
		pos, _ := kwargs["attack_position"].(float64)
		current, _ := snap.Attributes["position"].(float64)
		if abs(pos-current) < 0.1 {
			hp, _ := snap.Attributes["hp"].(int64)
			return map[string]any{"hp": hp - 10}, nil
		}
		return nil, nil
	})

	m := New(store, handlers, func(ctx context.Context, snap state.GameState, dt time.Duration) (map[string]any, error) {
		return nil, nil
	}, 5*time.Millisecond, testMax, nil)

	m.Start(context.Background())
	m.PushEvent(protocol.Event{Type: "ATTACK", KeywordArgs: map[string]any{"attack_position": 0.05}}, nil)
	time.Sleep(50 * time.Millisecond)
	m.Stop(time.Second)

	current := store.CurrentState()
	require.Equal(t, int64(90), current.Attributes["hp"])
}

func TestMachine_StartTwiceIsNoOp(t *testing.T) {
	initial := state.NewGameState(0, state.Paused, nil)
	store := state.NewStore(initial, 10, testMax, nil)
	handlers := eventbus.NewRegistry(nil)
	m := New(store, handlers, func(ctx context.Context, snap state.GameState, dt time.Duration) (map[string]any, error) {
		return nil, nil
	}, 5*time.Millisecond, testMax, nil)

	m.Start(context.Background())
	m.Start(context.Background())
	require.True(t, m.Stop(time.Second))
}

func TestMachine_StopWhenNotRunningIsNoOp(t *testing.T) {
	initial := state.NewGameState(0, state.Paused, nil)
	store := state.NewStore(initial, 10, testMax, nil)
	handlers := eventbus.NewRegistry(nil)
	m := New(store, handlers, func(ctx context.Context, snap state.GameState, dt time.Duration) (map[string]any, error) {
		return nil, nil
	}, 5*time.Millisecond, testMax, nil)

	require.True(t, m.Stop(time.Second))
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
