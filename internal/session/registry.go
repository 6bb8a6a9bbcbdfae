// Package session tracks the server's peer-address -> connection map:
// registration, lookup, iteration for "dispatch to all", and the
// designation of the host client (first peer to connect).
package session

import (
	"net"
	"runtime"
	"sync"
	"sync/atomic"

	"pygase/internal/connection"
	"pygase/internal/metrics"
)

type shard struct {
	peers sync.Map // map[string]*connection.Connection
	count int32
}

// Registry is the server's sharded peer-address -> Connection map, plus
// a fan-out worker pool used when dispatching an event to every peer.
type Registry struct {
	shards  []shard
	metrics *metrics.Registry

	hostMu   sync.Mutex
	hostAddr string
	hostSet  bool

	broadcastQueue chan func(*connection.Connection)
	workers        int
	once           sync.Once
}

// NewRegistry constructs a Registry with shardCount shards (64 if <= 0)
// and a fan-out worker pool (runtime.NumCPU() workers if workers <= 0).
func NewRegistry(shardCount, workers int, metricsRegistry *metrics.Registry) *Registry {
	if shardCount <= 0 {
		shardCount = 64
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Registry{
		shards:         make([]shard, shardCount),
		metrics:        metricsRegistry,
		broadcastQueue: make(chan func(*connection.Connection), 1024),
		workers:        workers,
	}
}

// StartFanoutWorkers launches the worker pool backing Broadcast. Safe to
// call multiple times; only the first call takes effect.
func (r *Registry) StartFanoutWorkers() {
	r.once.Do(func() {
		for i := 0; i < r.workers; i++ {
			go r.fanoutWorker()
		}
	})
}

func (r *Registry) fanoutWorker() {
	for task := range r.broadcastQueue {
		task(nil)
	}
}

// Register installs conn under addr.String(), designating it host_client
// if it is the first peer ever registered. Returns whether this peer
// became host.
func (r *Registry) Register(addr net.Addr, conn *connection.Connection) (isHost bool) {
	key := addr.String()
	s := r.pickShard(key)
	s.peers.Store(key, conn)
	atomic.AddInt32(&s.count, 1)
	if r.metrics != nil {
		r.metrics.ActiveConnections.Inc()
	}

	r.hostMu.Lock()
	defer r.hostMu.Unlock()
	if !r.hostSet {
		r.hostSet = true
		r.hostAddr = key
		return true
	}
	return false
}

// Unregister removes the connection registered under addr, if any.
func (r *Registry) Unregister(addr net.Addr) {
	key := addr.String()
	s := r.pickShard(key)
	if _, ok := s.peers.LoadAndDelete(key); ok {
		atomic.AddInt32(&s.count, -1)
		if r.metrics != nil {
			r.metrics.ActiveConnections.Dec()
		}
	}
}

// Lookup returns the connection registered for addr, if any.
func (r *Registry) Lookup(addr net.Addr) (*connection.Connection, bool) {
	s := r.pickShard(addr.String())
	v, ok := s.peers.Load(addr.String())
	if !ok {
		return nil, false
	}
	return v.(*connection.Connection), true
}

// IsHost reports whether addr is the registry's designated host_client.
// This is the spec's advisory, non-cryptographic permission model: the
// first peer to connect is trusted, nothing more.
func (r *Registry) IsHost(addr net.Addr) bool {
	r.hostMu.Lock()
	defer r.hostMu.Unlock()
	return r.hostSet && r.hostAddr == addr.String()
}

// Count returns the total number of tracked connections.
func (r *Registry) Count() int {
	var total int32
	for idx := range r.shards {
		total += atomic.LoadInt32(&r.shards[idx].count)
	}
	return int(total)
}

// ForEach applies fn to every currently registered connection.
func (r *Registry) ForEach(fn func(addr net.Addr, conn *connection.Connection)) {
	for idx := range r.shards {
		s := &r.shards[idx]
		s.peers.Range(func(key, value any) bool {
			conn := value.(*connection.Connection)
			fn(conn.RemoteAddr(), conn)
			return true
		})
	}
}

// Broadcast queues fn to run against every currently registered
// connection on the fan-out worker pool, so a server-wide dispatch_event
// does not block the caller iterating a potentially large peer map.
func (r *Registry) Broadcast(fn func(*connection.Connection)) {
	r.ForEach(func(_ net.Addr, conn *connection.Connection) {
		c := conn
		select {
		case r.broadcastQueue <- func(*connection.Connection) { fn(c) }:
		default:
			// fan-out queue full: run inline rather than drop the event.
			fn(c)
		}
	})
}

// Shutdown closes every tracked connection.
func (r *Registry) Shutdown() {
	r.ForEach(func(addr net.Addr, conn *connection.Connection) {
		conn.Close()
		r.Unregister(addr)
	})
}

func (r *Registry) pickShard(key string) *shard {
	var h uint32
	for i := 0; i < len(key); i++ {
		h = h*31 + uint32(key[i])
	}
	return &r.shards[h%uint32(len(r.shards))]
}
