package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequenceNumber_NextWrapsAtMax(t *testing.T) {
	max := SequenceMax(DefaultSequenceWidth)
	require.Equal(t, SequenceNumber(1), max.Next(max))
	require.Equal(t, SequenceNumber(2), SequenceNumber(1).Next(max))
}

func TestSequenceNumber_NewerThanCyclicRule(t *testing.T) {
	max := SequenceMax(DefaultSequenceWidth)

	require.True(t, SequenceNumber(5).NewerThan(3, max))
	require.False(t, SequenceNumber(3).NewerThan(5, max))

	// wraparound: 2 is newer than max-1
	require.True(t, SequenceNumber(2).NewerThan(max-1, max))
	require.False(t, (max - 1).NewerThan(2, max))
}

func TestSequenceNumber_ZeroNeverNewer(t *testing.T) {
	max := SequenceMax(DefaultSequenceWidth)
	require.False(t, SequenceNumber(0).NewerThan(5, max))
	require.False(t, SequenceNumber(5).NewerThan(0, max))
}

func TestSequenceNumber_DistanceWithin32(t *testing.T) {
	max := SequenceMax(DefaultSequenceWidth)
	remote := SequenceNumber(100)
	for _, s := range []SequenceNumber{68, 90, 99, 100} {
		d := remote.Distance(s, max)
		require.True(t, d >= 0 && d <= 32, "distance %d out of expected ack window", d)
	}
}
