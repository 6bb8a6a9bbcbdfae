// Package connection implements the per-peer transport state machine:
// sequence bookkeeping, ack bitfields, RTT estimation, congestion-driven
// send-rate adaptation, and the event ack/retry machinery.
package connection

import "time"

// Config bundles every tunable the connection engine exposes. Defaults
// match the source specification; callers load overrides through
// internal/config.
type Config struct {
	SequenceWidth   int
	MaxDatagramSize int

	GoodRateHz float64
	BadRateHz  float64

	LatencyThresholdMs float64
	BadHold            time.Duration
	GoodHold           time.Duration
	HoldBackoffFactor  float64
	MaxHold            time.Duration

	IdleTimeout  time.Duration
	DeadTimeout  time.Duration
	EventTimeout time.Duration

	DefaultRetries int

	// InboundRateLimit is carried through from configuration; the
	// connection engine does not read it, and inbound datagrams are not
	// rate-limited.
	InboundRateLimit float64
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		SequenceWidth:      2,
		MaxDatagramSize:    2048,
		GoodRateHz:         40,
		BadRateHz:          5,
		LatencyThresholdMs: 250,
		BadHold:            time.Second,
		GoodHold:           10 * time.Second,
		HoldBackoffFactor:  1.5,
		MaxHold:            60 * time.Second,
		IdleTimeout:        5 * time.Second,
		DeadTimeout:        15 * time.Second,
		EventTimeout:       time.Second,
		DefaultRetries:     0,
		InboundRateLimit:   200,
	}
}
