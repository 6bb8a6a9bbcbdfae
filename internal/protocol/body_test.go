package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlainBody_RoundTrip(t *testing.T) {
	events := []Event{
		{Type: "ATTACK", PositionalArgs: []any{}, KeywordArgs: map[string]any{"attack_position": 0.05}},
	}
	encoded, err := EncodePlainBody(DefaultSequenceWidth, MaxDatagramSize, PlainBody{Events: events})
	require.NoError(t, err)

	got, err := DecodePlainBody(encoded)
	require.NoError(t, err)
	require.Equal(t, events, got.Events)
}

func TestClientBody_RoundTrip(t *testing.T) {
	body := ClientBody{TimeOrder: 17, Events: []Event{{Type: "PING"}}}
	encoded, err := EncodeClientBody(DefaultSequenceWidth, MaxDatagramSize, body)
	require.NoError(t, err)

	got, err := DecodeClientBody(encoded)
	require.NoError(t, err)
	require.Equal(t, SequenceNumber(17), got.TimeOrder)
	require.Equal(t, "PING", got.Events[0].Type)
}

func TestServerBody_RoundTrip(t *testing.T) {
	body := ServerBody{
		UpdateTimeOrder: 3,
		UpdateAttrs:     map[string]any{"hp": int64(90), "removed": ToDelete},
		Events:          nil,
	}
	encoded, err := EncodeServerBody(DefaultSequenceWidth, MaxDatagramSize, body)
	require.NoError(t, err)

	got, err := DecodeServerBody(encoded)
	require.NoError(t, err)
	require.Equal(t, body.UpdateTimeOrder, got.UpdateTimeOrder)
	require.Equal(t, body.UpdateAttrs, got.UpdateAttrs)
	require.Empty(t, got.Events)
}

func TestIsReserved(t *testing.T) {
	require.True(t, IsReserved(ShutdownEventType))
	require.True(t, IsReserved("__anything"))
	require.False(t, IsReserved("ATTACK"))
}
