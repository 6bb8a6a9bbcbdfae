package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"pygase/internal/config"
	"pygase/internal/eventbus"
	"pygase/internal/protocol"
	"pygase/internal/state"
)

func testConfig() config.Config {
	return config.Config{
		Connection: config.ConnectionConfig{
			SequenceWidth:   2,
			MaxDatagramSize: 2048,
		},
	}
}

func TestBuildBodyEncodesMirrorTimeOrder(t *testing.T) {
	c := New(testConfig(), nil, nil, nil)
	c.mirror = state.NewGameState(7, state.Active, map[string]any{"hp": int64(100)})

	body, err := c.buildBody([]protocol.Event{{Type: "PING"}})
	require.NoError(t, err)

	cb, err := protocol.DecodeClientBody(body)
	require.NoError(t, err)
	require.EqualValues(t, 7, cb.TimeOrder)
	require.Len(t, cb.Events, 1)
	require.Equal(t, "PING", cb.Events[0].Type)
}

func TestDecodeBodyRoundTripsServerBody(t *testing.T) {
	c := New(testConfig(), nil, nil, nil)

	body, err := protocol.EncodeServerBody(2, 2048, protocol.ServerBody{
		UpdateTimeOrder: 3,
		UpdateAttrs:     map[string]any{"hp": int64(90)},
		Events:          []protocol.Event{{Type: "ATTACK"}},
	})
	require.NoError(t, err)

	events, extra, err := c.decodeBody(body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	update, ok := extra.(state.GameStateUpdate)
	require.True(t, ok)
	require.EqualValues(t, 3, update.TimeOrder)
	require.Equal(t, int64(90), update.Attributes["hp"])
}

func TestOnDecodedAppliesOnlyNewerUpdate(t *testing.T) {
	c := New(testConfig(), nil, nil, nil)
	c.mirror = state.NewGameState(5, state.Active, map[string]any{"hp": int64(100)})

	// A stale update (time_order older than the mirror's) must not move
	// TimeOrder backwards, matching the application law in spec.md §3.
	c.onDecoded(state.GameStateUpdate{TimeOrder: 2, Attributes: map[string]any{"hp": int64(1)}})
	require.EqualValues(t, 5, c.mirror.TimeOrder)
	require.Equal(t, int64(1), c.mirror.Attributes["hp"])

	c.onDecoded(state.GameStateUpdate{TimeOrder: 6, Attributes: map[string]any{"hp": int64(90)}})
	require.EqualValues(t, 6, c.mirror.TimeOrder)
	require.Equal(t, int64(90), c.mirror.Attributes["hp"])
}

func TestAccessGameStateReturnsCurrentMirror(t *testing.T) {
	c := New(testConfig(), nil, nil, nil)
	c.mirror = state.NewGameState(1, state.Active, map[string]any{"hp": int64(100)})

	acc := c.AccessGameState()
	snap := acc.State()
	acc.Release()

	require.Equal(t, int64(100), snap.Attributes["hp"])
}

func TestOnEventsDispatchesToRegisteredHandler(t *testing.T) {
	var gotType string
	handlers := map[string]eventbus.Handler{
		"GREET": func(ctx context.Context, args []any, kwargs map[string]any) (map[string]any, error) {
			gotType = "GREET"
			return nil, nil
		},
	}
	c := New(testConfig(), handlers, nil, nil)

	c.onEvents([]protocol.Event{{Type: "GREET"}})
	require.Equal(t, "GREET", gotType)
}

func TestDispatchEventBeforeConnectIsNoop(t *testing.T) {
	c := New(testConfig(), nil, nil, nil)
	// Must not panic when called before Connect has set up c.conn.
	c.DispatchEvent(protocol.Event{Type: "ATTACK"}, 0, nil, nil)
}
