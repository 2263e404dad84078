package features

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitchline/stitchline/internal/shared"
)

type memoryStore struct {
	mu    sync.Mutex
	flags map[string]Flag
	gets  int
	err   error
	delay time.Duration
}

func newMemoryStore() *memoryStore {
	return &memoryStore{flags: make(map[string]Flag)}
}

func (m *memoryStore) Get(_ context.Context, storeID, key string) (Flag, bool, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.err != nil {
		return Flag{}, false, m.err
	}
	f, ok := m.flags[storeID+"|"+key]
	return f, ok, nil
}

func (m *memoryStore) Set(_ context.Context, storeID, key string, enabled bool) (Flag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := Flag{StoreID: storeID, Key: key, Enabled: enabled, UpdatedAt: time.Now().UTC()}
	m.flags[storeID+"|"+key] = f
	return f, nil
}

func (m *memoryStore) List(_ context.Context, storeID string) ([]Flag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Flag
	for _, f := range m.flags {
		if f.StoreID == storeID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memoryStore) loads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

func newTestService(t *testing.T, store Store) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := NewService(store, client, Config{
		TTL:      time.Minute,
		Defaults: map[string]bool{"inventory_enforcement": true},
	}, nil)
	return svc, mr
}

func TestEnabledDefaultsWhenAbsent(t *testing.T) {
	store := newMemoryStore()
	svc, mr := newTestService(t, store)
	ctx := context.Background()
	storeID := uuid.NewString()

	on, err := svc.Enabled(ctx, storeID, "inventory_enforcement")
	require.NoError(t, err)
	assert.True(t, on)

	off, err := svc.Enabled(ctx, storeID, "beta_tickets")
	require.NoError(t, err)
	assert.False(t, off)

	cached, err := mr.Get(shared.FeatureFlagKey(storeID, "inventory_enforcement"))
	require.NoError(t, err)
	assert.Equal(t, cachedAbsent, cached)
}

func TestEnabledServesFromCache(t *testing.T) {
	store := newMemoryStore()
	svc, mr := newTestService(t, store)
	ctx := context.Background()
	storeID := uuid.NewString()
	_, err := store.Set(ctx, storeID, "inventory_enforcement", false)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		on, err := svc.Enabled(ctx, storeID, "inventory_enforcement")
		require.NoError(t, err)
		assert.False(t, on)
	}
	assert.Equal(t, 1, store.loads())

	mr.FastForward(2 * time.Minute)
	_, err = svc.Enabled(ctx, storeID, "inventory_enforcement")
	require.NoError(t, err)
	assert.Equal(t, 2, store.loads())
}

func TestSetInvalidatesCache(t *testing.T) {
	store := newMemoryStore()
	svc, _ := newTestService(t, store)
	ctx := context.Background()
	storeID := uuid.NewString()

	on, err := svc.Enabled(ctx, storeID, "inventory_enforcement")
	require.NoError(t, err)
	require.True(t, on)

	flag, err := svc.Set(ctx, storeID, "inventory_enforcement", false)
	require.NoError(t, err)
	assert.False(t, flag.Enabled)

	on, err = svc.Enabled(ctx, storeID, "inventory_enforcement")
	require.NoError(t, err)
	assert.False(t, on)

	flags, err := svc.List(ctx, storeID)
	require.NoError(t, err)
	require.Len(t, flags, 1)
}

func TestEnabledFallsBackToStoreWhenRedisIsDown(t *testing.T) {
	store := newMemoryStore()
	svc, mr := newTestService(t, store)
	ctx := context.Background()
	storeID := uuid.NewString()
	_, err := store.Set(ctx, storeID, "inventory_enforcement", false)
	require.NoError(t, err)

	mr.Close()
	on, err := svc.Enabled(ctx, storeID, "inventory_enforcement")
	require.NoError(t, err)
	assert.False(t, on)
}

func TestEnabledReportsStoreErrors(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("connection refused")
	svc, _ := newTestService(t, store)

	_, err := svc.Enabled(context.Background(), uuid.NewString(), "inventory_enforcement")
	require.Error(t, err)
}

func TestEnabledCollapsesConcurrentMisses(t *testing.T) {
	store := newMemoryStore()
	store.delay = 50 * time.Millisecond
	svc := NewService(store, nil, Config{}, nil)
	storeID := uuid.NewString()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Enabled(context.Background(), storeID, "inventory_enforcement")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Less(t, store.loads(), 8)
}

func TestValidation(t *testing.T) {
	svc := NewService(newMemoryStore(), nil, Config{}, nil)
	ctx := context.Background()

	_, err := svc.Enabled(ctx, "store", "inventory_enforcement")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Set(ctx, uuid.NewString(), "Bad Key!", true)
	require.ErrorIs(t, err, shared.ErrValidation)
}
