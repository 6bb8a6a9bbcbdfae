package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"pygase/internal/protocol"
)

func TestRegistry_HandleMergesKwargsInjectedWins(t *testing.T) {
	reg := NewRegistry(nil)
	var gotKwargs map[string]any
	reg.Register("ATTACK", func(ctx context.Context, args []any, kwargs map[string]any) (map[string]any, error) {
		gotKwargs = kwargs
		return map[string]any{"hp": int64(90)}, nil
	})

	e := protocol.Event{Type: "ATTACK", KeywordArgs: map[string]any{"dt": 0.5, "attack_position": 0.05}}
	patch, err := reg.Handle(context.Background(), e, map[string]any{"dt": 0.02})

	require.NoError(t, err)
	require.Equal(t, int64(90), patch["hp"])
	require.Equal(t, 0.02, gotKwargs["dt"], "injected kwargs must win over the event's own")
	require.Equal(t, 0.05, gotKwargs["attack_position"])
}

func TestRegistry_UnknownTypeIsNotAnError(t *testing.T) {
	reg := NewRegistry(nil)
	patch, err := reg.Handle(context.Background(), protocol.Event{Type: "UNKNOWN"}, nil)
	require.NoError(t, err)
	require.Nil(t, patch)
}

func TestRegistry_ReRegisterReplaces(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("PING", func(ctx context.Context, args []any, kwargs map[string]any) (map[string]any, error) {
		return map[string]any{"from": "first"}, nil
	})
	reg.Register("PING", func(ctx context.Context, args []any, kwargs map[string]any) (map[string]any, error) {
		return map[string]any{"from": "second"}, nil
	})

	patch, err := reg.Handle(context.Background(), protocol.Event{Type: "PING"}, nil)
	require.NoError(t, err)
	require.Equal(t, "second", patch["from"])
}

func TestRegistry_Has(t *testing.T) {
	reg := NewRegistry(nil)
	require.False(t, reg.Has("X"))
	reg.Register("X", func(ctx context.Context, args []any, kwargs map[string]any) (map[string]any, error) { return nil, nil })
	require.True(t, reg.Has("X"))
}
