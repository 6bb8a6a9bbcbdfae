package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pygase/internal/protocol"
)

const testMax = protocol.SequenceNumber(65535)

func TestCompose_Associative(t *testing.T) {
	u1 := GameStateUpdate{TimeOrder: 1, Attributes: map[string]any{"hp": int64(100)}}
	u2 := GameStateUpdate{TimeOrder: 2, Attributes: map[string]any{"hp": int64(90), "mp": int64(10)}}
	u3 := GameStateUpdate{TimeOrder: 3, Attributes: map[string]any{"mp": int64(5)}}

	left := Compose(Compose(u1, u2, testMax), u3, testMax)
	right := Compose(u1, Compose(u2, u3, testMax), testMax)

	require.Equal(t, left, right)
	require.Equal(t, protocol.SequenceNumber(3), left.TimeOrder)
	require.Equal(t, int64(90), left.Attributes["hp"])
	require.Equal(t, int64(5), left.Attributes["mp"])
}

func TestCompose_LaterWinsPerKey(t *testing.T) {
	u1 := GameStateUpdate{TimeOrder: 1, Attributes: map[string]any{"hp": int64(100)}}
	u2 := GameStateUpdate{TimeOrder: 2, Attributes: map[string]any{}}

	composed := Compose(u1, u2, testMax)
	require.Equal(t, int64(100), composed.Attributes["hp"], "key absent from u2 keeps u1's value")
}

func TestCompose_DeletePropagates(t *testing.T) {
	u1 := GameStateUpdate{TimeOrder: 1, Attributes: map[string]any{"tmp": int64(1)}}
	u2 := GameStateUpdate{TimeOrder: 2, Attributes: map[string]any{"tmp": protocol.ToDelete}}

	composed := Compose(u1, u2, testMax)
	require.Equal(t, protocol.ToDelete, composed.Attributes["tmp"])
}

func TestApply_OverwritesAndAdvancesTimeOrder(t *testing.T) {
	initial := NewGameState(1, Active, map[string]any{"hp": int64(100)})
	update := GameStateUpdate{TimeOrder: 2, Attributes: map[string]any{"hp": int64(90)}}

	next := Apply(initial, update, testMax)
	require.Equal(t, protocol.SequenceNumber(2), next.TimeOrder)
	require.Equal(t, int64(90), next.Attributes["hp"])
}

func TestApply_DeleteRemovesKeyAndIsIdempotent(t *testing.T) {
	initial := NewGameState(1, Active, map[string]any{"buff": int64(1)})
	del := GameStateUpdate{TimeOrder: 2, Attributes: map[string]any{"buff": protocol.ToDelete}}

	once := Apply(initial, del, testMax)
	_, present := once.Attributes["buff"]
	require.False(t, present)

	twice := Apply(once, del, testMax)
	_, stillPresent := twice.Attributes["buff"]
	require.False(t, stillPresent)
}

func TestApply_DoesNotRegressTimeOrder(t *testing.T) {
	initial := NewGameState(5, Active, nil)
	stale := GameStateUpdate{TimeOrder: 3, Attributes: map[string]any{"x": int64(1)}}

	next := Apply(initial, stale, testMax)
	require.Equal(t, protocol.SequenceNumber(5), next.TimeOrder, "an older update must not move time_order backwards")
	require.Equal(t, int64(1), next.Attributes["x"], "attribute values still apply even when time_order doesn't advance")
}

func TestComposeThenApply_EqualsSequentialApply(t *testing.T) {
	initial := NewGameState(1, Active, map[string]any{"hp": int64(100)})
	u1 := GameStateUpdate{TimeOrder: 2, Attributes: map[string]any{"hp": int64(90)}}
	u2 := GameStateUpdate{TimeOrder: 3, Attributes: map[string]any{"mp": int64(5)}}

	viaCompose := Apply(initial, Compose(u1, u2, testMax), testMax)
	viaSequential := Apply(Apply(initial, u1, testMax), u2, testMax)

	require.Equal(t, viaSequential, viaCompose)
}

func TestGameState_StatusAccessor(t *testing.T) {
	s := NewGameState(1, Active, nil)
	require.Equal(t, Active, s.Status())

	s = NewGameState(1, Paused, nil)
	require.Equal(t, Paused, s.Status())
}
