package cache

import (
	"container/list"
	"sync"
	"time"
)

// lruStore is the L1 in-process store: LRU eviction by capacity plus
// per-entry expiry on the monotone clock.
type lruStore struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

func newLRUStore(capacity int) *lruStore {
	if capacity < 1 {
		capacity = 1
	}
	return &lruStore{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// get returns the value and whether it was found. Expired entries are
// evicted lazily on read.
func (s *lruStore) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		return nil, false
	}

	entry := elem.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		s.order.Remove(elem)
		delete(s.entries, key)
		return nil, false
	}

	s.order.MoveToFront(elem)
	return entry.value, true
}

func (s *lruStore) set(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := time.Now().Add(ttl)

	if elem, ok := s.entries[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		s.order.MoveToFront(elem)
		return
	}

	elem := s.order.PushFront(&lruEntry{key: key, value: value, expiresAt: expiresAt})
	s.entries[key] = elem

	for len(s.entries) > s.capacity {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*lruEntry).key)
	}
}

func (s *lruStore) delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		s.order.Remove(elem)
		delete(s.entries, key)
	}
}

func (s *lruStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*list.Element)
	s.order.Init()
}

// sweep removes every expired entry. Called by the background tick.
func (s *lruStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, elem := range s.entries {
		if now.After(elem.Value.(*lruEntry).expiresAt) {
			s.order.Remove(elem)
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *lruStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
