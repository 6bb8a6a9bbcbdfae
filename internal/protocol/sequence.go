// Package protocol implements the wire format: sequence numbers, headers
// and the compact body codec shared by every datagram.
package protocol

import "fmt"

// DefaultSequenceWidth is the byte width backing a SequenceNumber. The default
// matches a 16-bit wire field: values wrap from Max back to 1, and 0 is
// reserved to mean "never sent/received in this direction".
const DefaultSequenceWidth = 2

// SequenceNumber is a modular integer on the range [0, Max], where Max is
// determined by the configured byte width. Zero means "uninitialized".
// Ordering between two nonzero sequence numbers follows a cyclic-distance
// rule so that wraparound never looks like the stream going backwards.
type SequenceNumber uint32

// SequenceMax returns the largest representable SequenceNumber for a given
// byte width (e.g. width 2 -> 65535).
func SequenceMax(width int) SequenceNumber {
	return SequenceNumber(uint64(1)<<(8*uint(width))) - 1
}

// Next returns s+1, wrapping MAX back to 1. Zero is never produced by Next;
// it is reserved for "no sequence yet" and only ever assigned at
// construction time.
func (s SequenceNumber) Next(max SequenceNumber) SequenceNumber {
	if s >= max {
		return 1
	}
	return s + 1
}

// cyclicDistance returns a-b on the ring 1..max (0 is skipped, so the ring
// has max members) taken modulo max, in the signed range [-max/2, max/2],
// the same rule RakNet-style sequence windows and KCP's ack/una
// comparisons use to stay correct across wraparound.
func cyclicDistance(a, b, max SequenceNumber) int64 {
	m := int64(max)
	d := (int64(a) - int64(b)) % m
	if d > m/2 {
		d -= m
	} else if d < -(m / 2) {
		d += m
	}
	return d
}

// NewerThan reports whether s is newer than other under the cyclic-distance
// rule: s is newer than other iff (s-other) mod max lies in (0, max/2].
// Both sequence numbers must be nonzero; a zero SequenceNumber is never
// "newer" than anything (it means "never").
func (s SequenceNumber) NewerThan(other SequenceNumber, max SequenceNumber) bool {
	if s == 0 || other == 0 {
		return false
	}
	d := cyclicDistance(s, other, max)
	return d > 0 && d <= int64(max)/2
}

// Distance returns the signed cyclic distance s-other, useful for computing
// ack-bitfield shift amounts and gap sizes.
func (s SequenceNumber) Distance(other SequenceNumber, max SequenceNumber) int64 {
	return cyclicDistance(s, other, max)
}

func (s SequenceNumber) String() string {
	return fmt.Sprintf("seq(%d)", uint32(s))
}
