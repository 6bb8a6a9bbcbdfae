package connection

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pygase/internal/protocol"
)

const testMax = protocol.SequenceNumber(65535)

type fakeAddr struct{ s string }

func (f fakeAddr) Network() string { return "fake" }
func (f fakeAddr) String() string  { return f.s }

// pipe wires two Connections together in-process: each one's write
// closure hands the datagram straight to the other's HandleDatagram, as
// if delivered over a lossless loopback socket.
type pipe struct {
	mu   sync.Mutex
	to   *Connection
	drop bool
}

func (p *pipe) write(data []byte) error {
	p.mu.Lock()
	drop := p.drop
	to := p.to
	p.mu.Unlock()
	if drop || to == nil {
		return nil
	}
	cp := append([]byte(nil), data...)
	go to.HandleDatagram(cp)
	return nil
}

func plainBuild(width, maxSize int) BuildBody {
	return func(events []protocol.Event) ([]byte, error) {
		return protocol.EncodePlainBody(width, maxSize, protocol.PlainBody{Events: events})
	}
}

func plainDecode() DecodeBody {
	return func(body []byte) ([]protocol.Event, any, error) {
		b, err := protocol.DecodePlainBody(body)
		if err != nil {
			return nil, nil, err
		}
		return b.Events, nil, nil
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.GoodRateHz = 200
	cfg.BadRateHz = 50
	cfg.EventTimeout = 100 * time.Millisecond
	cfg.IdleTimeout = 200 * time.Millisecond
	cfg.DeadTimeout = 400 * time.Millisecond
	return cfg
}

func newPair(t *testing.T) (a, b *Connection, receivedA, receivedB func() []protocol.Event) {
	t.Helper()
	cfg := fastConfig()

	aToB := &pipe{}
	bToA := &pipe{}

	var gotA, gotB []protocol.Event
	var muA, muB sync.Mutex

	a = New(fakeAddr{"b"}, cfg, testMax, aToB.write,
		plainBuild(cfg.SequenceWidth, cfg.MaxDatagramSize), plainDecode(),
		nil, func(events []protocol.Event) {
			muA.Lock()
			gotA = append(gotA, events...)
			muA.Unlock()
		}, nil, nil, nil)

	b = New(fakeAddr{"a"}, cfg, testMax, bToA.write,
		plainBuild(cfg.SequenceWidth, cfg.MaxDatagramSize), plainDecode(),
		nil, func(events []protocol.Event) {
			muB.Lock()
			gotB = append(gotB, events...)
			muB.Unlock()
		}, nil, nil, nil)

	aToB.to = b
	bToA.to = a

	receivedA = func() []protocol.Event { muA.Lock(); defer muA.Unlock(); return append([]protocol.Event{}, gotA...) }
	receivedB = func() []protocol.Event { muB.Lock(); defer muB.Unlock(); return append([]protocol.Event{}, gotB...) }
	return a, b, receivedA, receivedB
}

func TestConnection_EventDeliveredAcrossPair(t *testing.T) {
	a, b, _, receivedB := newPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	b.Start(ctx)
	defer a.Close()
	defer b.Close()

	a.DispatchEvent(protocol.Event{Type: "PING"}, 0, nil, nil)

	require.Eventually(t, func() bool {
		return len(receivedB()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestConnection_ReliableEventAcked(t *testing.T) {
	a, b, _, _ := newPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	b.Start(ctx)
	defer a.Close()
	defer b.Close()

	acked := make(chan struct{}, 1)
	a.DispatchEvent(protocol.Event{Type: "HELLO"}, 3, func() { acked <- struct{}{} }, nil)

	select {
	case <-acked:
	case <-time.After(2 * time.Second):
		t.Fatal("ack callback never fired")
	}
}

func TestConnection_TimeoutCallbackFiresWhenPeerUnreachable(t *testing.T) {
	cfg := fastConfig()
	var sent int
	var mu sync.Mutex
	write := func(data []byte) error {
		mu.Lock()
		sent++
		mu.Unlock()
		return nil
	}
	a := New(fakeAddr{"nowhere"}, cfg, testMax, write,
		plainBuild(cfg.SequenceWidth, cfg.MaxDatagramSize), plainDecode(),
		nil, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	defer a.Close()

	timedOut := make(chan struct{}, 1)
	a.DispatchEvent(protocol.Event{Type: "HELLO"}, 1, nil, func() { timedOut <- struct{}{} })

	select {
	case <-timedOut:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout callback never fired")
	}
}

func TestConnection_DuplicateDatagramNotDeliveredTwice(t *testing.T) {
	cfg := fastConfig()
	var received []protocol.Event
	var mu sync.Mutex
	a := New(fakeAddr{"x"}, cfg, testMax, func([]byte) error { return nil },
		plainBuild(cfg.SequenceWidth, cfg.MaxDatagramSize), plainDecode(),
		nil, func(events []protocol.Event) {
			mu.Lock()
			received = append(received, events...)
			mu.Unlock()
		}, nil, nil, nil)

	body, err := protocol.EncodePlainBody(cfg.SequenceWidth, cfg.MaxDatagramSize, protocol.PlainBody{
		Events: []protocol.Event{{Type: "X"}},
	})
	require.NoError(t, err)
	datagram, err := protocol.EncodeDatagram(cfg.SequenceWidth, cfg.MaxDatagramSize,
		protocol.Header{Sequence: 1, Ack: 0, AckBitfield: 0}, body)
	require.NoError(t, err)

	a.HandleDatagram(datagram)
	a.HandleDatagram(append([]byte(nil), datagram...))

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
}

func TestConnection_AckBitfieldMarksRecentlyReceivedSequences(t *testing.T) {
	c := &Connection{max: testMax}
	c.remoteSeq = 10
	c.ackBitfield = 0

	c.advanceRemoteLocked(11)
	require.Equal(t, protocol.SequenceNumber(11), c.remoteSeq)
	require.True(t, c.ackBitfield&(1<<0) != 0, "bit for seq 10 should be set after advancing to 11")

	c.advanceRemoteLocked(13)
	require.Equal(t, protocol.SequenceNumber(13), c.remoteSeq)
	require.True(t, c.ackBitfield&(1<<1) != 0, "bit for seq 11 should be set after advancing to 13")
}

func TestConnection_SubtractWrapHandlesWraparound(t *testing.T) {
	require.Equal(t, protocol.SequenceNumber(65535), subtractWrap(1, 1, testMax))
	require.Equal(t, protocol.SequenceNumber(5), subtractWrap(10, 5, testMax))
}

func TestConnection_QualityDemotesOnlyAfterBadHoldSustained(t *testing.T) {
	cfg := fastConfig()
	cfg.LatencyThresholdMs = 100
	cfg.BadHold = 200 * time.Millisecond
	cfg.GoodHold = 500 * time.Millisecond

	c := New(fakeAddr{"x"}, cfg, testMax, func([]byte) error { return nil },
		plainBuild(cfg.SequenceWidth, cfg.MaxDatagramSize), plainDecode(),
		nil, nil, nil, nil, nil)

	start := time.Now()
	c.mu.Lock()
	c.latencyMs = 250
	c.lastTransition = start
	c.mu.Unlock()

	c.evaluateQuality(start)
	require.Equal(t, Good, c.Quality(), "must not demote on the first over-threshold sample")

	c.evaluateQuality(start.Add(100 * time.Millisecond))
	require.Equal(t, Good, c.Quality(), "must not demote before bad_hold has elapsed")

	c.evaluateQuality(start.Add(250 * time.Millisecond))
	require.Equal(t, Bad, c.Quality(), "must demote once latency stayed over threshold for bad_hold")
}

func TestConnection_QualityPromotesOnlyAfterGoodHoldSustained(t *testing.T) {
	cfg := fastConfig()
	cfg.LatencyThresholdMs = 100
	cfg.BadHold = 50 * time.Millisecond
	cfg.GoodHold = 300 * time.Millisecond

	c := New(fakeAddr{"x"}, cfg, testMax, func([]byte) error { return nil },
		plainBuild(cfg.SequenceWidth, cfg.MaxDatagramSize), plainDecode(),
		nil, nil, nil, nil, nil)

	start := time.Now()
	c.mu.Lock()
	c.quality = Bad
	c.latencyMs = 10
	c.lastTransition = start
	c.mu.Unlock()

	c.evaluateQuality(start)
	require.Equal(t, Bad, c.Quality(), "must not promote on the first under-threshold sample")

	c.evaluateQuality(start.Add(150 * time.Millisecond))
	require.Equal(t, Bad, c.Quality(), "must not promote before good_hold has elapsed")

	c.evaluateQuality(start.Add(350 * time.Millisecond))
	require.Equal(t, Good, c.Quality(), "must promote once latency stayed under threshold for good_hold")
}

var _ = net.Addr(fakeAddr{})
