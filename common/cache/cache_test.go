package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomery/loom/common/logger"
)

// memoryStore is an in-memory L2 used to observe write-through behaviour
type memoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
	gets int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.err != nil {
		return nil, false, s.err
	}
	value, ok := s.data[key]
	return value, ok, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.data[key] = value
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string][]byte)
	return nil
}

func newTestCache(t *testing.T, l2 Store) *Layered {
	t.Helper()
	c := NewLayered(Options{L1Capacity: 4, DefaultTTL: time.Minute}, l2, nil, logger.NewNop())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLayeredSetGet(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, nil)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	value, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), value)

	_, ok, err = c.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLayeredWriteThrough(t *testing.T) {
	ctx := context.Background()
	l2 := newMemoryStore()
	c := newTestCache(t, l2)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	assert.Equal(t, []byte("v"), l2.data["k"])

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok := l2.data["k"]
	assert.False(t, ok)
}

func TestLayeredL2HitRepopulatesL1(t *testing.T) {
	ctx := context.Background()
	l2 := newMemoryStore()
	l2.data["warm"] = []byte("from-l2")
	c := newTestCache(t, l2)

	value, ok, err := c.Get(ctx, "warm")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("from-l2"), value)

	// second read must come from L1
	before := l2.gets
	_, ok, _ = c.Get(ctx, "warm")
	require.True(t, ok)
	assert.Equal(t, before, l2.gets)
}

func TestLayeredL2ErrorIsSwallowed(t *testing.T) {
	ctx := context.Background()
	l2 := newMemoryStore()
	l2.err = errors.New("redis unreachable")
	c := newTestCache(t, l2)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))

	// L1 still serves
	value, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), value)
}

func TestLayeredExpiry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, nil)

	require.NoError(t, c.Set(ctx, "fleeting", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, ok, err := c.Get(ctx, "fleeting")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLayeredGetOrLoad(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, nil)

	calls := 0
	loader := func(ctx context.Context) ([]byte, time.Duration, error) {
		calls++
		return []byte("loaded"), time.Minute, nil
	}

	value, err := c.GetOrLoad(ctx, "k", loader)
	require.NoError(t, err)
	assert.Equal(t, []byte("loaded"), value)
	assert.Equal(t, 1, calls)

	// hit path skips the loader
	value, err = c.GetOrLoad(ctx, "k", loader)
	require.NoError(t, err)
	assert.Equal(t, []byte("loaded"), value)
	assert.Equal(t, 1, calls)
}

func TestLayeredGetOrLoadError(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, nil)

	wantErr := errors.New("load failed")
	_, err := c.GetOrLoad(ctx, "k", func(ctx context.Context) ([]byte, time.Duration, error) {
		return nil, 0, wantErr
	})
	require.ErrorIs(t, err, wantErr)

	// errors are not cached
	_, ok, _ := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestLRUCapacityEviction(t *testing.T) {
	s := newLRUStore(2)
	s.set("a", []byte("1"), time.Minute)
	s.set("b", []byte("2"), time.Minute)

	// touch a so b is the eviction candidate
	_, ok := s.get("a")
	require.True(t, ok)

	s.set("c", []byte("3"), time.Minute)
	assert.Equal(t, 2, s.len())

	_, ok = s.get("b")
	assert.False(t, ok, "least recently used entry must be evicted")
	_, ok = s.get("a")
	assert.True(t, ok)
	_, ok = s.get("c")
	assert.True(t, ok)
}

func TestLRUSweepRemovesExpired(t *testing.T) {
	s := newLRUStore(8)
	s.set("live", []byte("1"), time.Minute)
	s.set("dead", []byte("2"), -time.Second)

	removed := s.sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.len())
}
