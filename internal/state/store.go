package state

import (
	"sync"

	"go.uber.org/zap"

	"pygase/internal/protocol"
)

// DefaultCacheCapacity is the default number of recent updates retained by
// a Store, ring-buffer style, for computing deltas against late clients.
const DefaultCacheCapacity = 100

// Store holds the current authoritative GameState plus a bounded ring of
// recent updates. PushUpdate is the only writer; CurrentState and
// UpdatesSince are concurrent readers operating over a brief read lock,
// matching the replay-buffer idiom this is adapted from: readers never
// block behind user code, only behind a short critical section.
type Store struct {
	mu       sync.RWMutex
	current  GameState
	cache    []GameStateUpdate
	capacity int
	max      protocol.SequenceNumber

	// oldestRetainedPredecessor is the time_order of the most recently
	// evicted update (0 until the first eviction). A client whose last
	// known time_order is older than this cannot be caught up from the
	// cache and must instead receive a full resync.
	oldestRetainedPredecessor protocol.SequenceNumber

	logger *zap.Logger
}

// NewStore constructs a Store seeded with initial, retaining up to
// cacheCapacity updates (DefaultCacheCapacity if <= 0).
func NewStore(initial GameState, cacheCapacity int, max protocol.SequenceNumber, logger *zap.Logger) *Store {
	if cacheCapacity <= 0 {
		cacheCapacity = DefaultCacheCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		current:  initial.Clone(),
		cache:    make([]GameStateUpdate, 0, cacheCapacity),
		capacity: cacheCapacity,
		max:      max,
		logger:   logger,
	}
}

// CurrentState returns a snapshot safe for the caller to read without
// further locking; the store never mutates a returned snapshot in place.
func (s *Store) CurrentState() GameState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// PushUpdate applies u to the current state and inserts it into the
// cache, evicting the oldest entry once over capacity. Two pushes from the
// same caller land in the cache in the order they were pushed; the caller
// is responsible for assigning a strictly increasing TimeOrder.
func (s *Store) PushUpdate(u GameStateUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = Apply(s.current, u, s.max)
	s.cache = append(s.cache, u.Clone())
	if len(s.cache) > s.capacity {
		evicted := s.cache[0]
		s.cache = s.cache[1:]
		s.oldestRetainedPredecessor = evicted.TimeOrder
	}
}

// UpdatesSince composes a delta that takes a client from clientTimeOrder
// to the current state. A clientTimeOrder of 0 ("never synced") or one
// that falls outside the retained cache window yields a synthetic update
// equal to the full current state, so the client can resynchronize.
func (s *Store) UpdatesSince(clientTimeOrder protocol.SequenceNumber) GameStateUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if clientTimeOrder == 0 || s.needsFullResyncLocked(clientTimeOrder) {
		return FullUpdate(s.current)
	}

	var composed *GameStateUpdate
	for _, u := range s.cache {
		if !u.TimeOrder.NewerThan(clientTimeOrder, s.max) {
			continue
		}
		if composed == nil {
			c := u.Clone()
			composed = &c
			continue
		}
		merged := Compose(*composed, u, s.max)
		composed = &merged
	}
	if composed == nil {
		return GameStateUpdate{TimeOrder: s.current.TimeOrder, Attributes: map[string]any{}}
	}
	return *composed
}

func (s *Store) needsFullResyncLocked(clientTimeOrder protocol.SequenceNumber) bool {
	if s.oldestRetainedPredecessor == 0 {
		return false
	}
	return s.oldestRetainedPredecessor.NewerThan(clientTimeOrder, s.max) && s.oldestRetainedPredecessor != clientTimeOrder
}
