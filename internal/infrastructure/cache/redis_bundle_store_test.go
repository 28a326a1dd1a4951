package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erp/arledger/internal/application/report"
	"github.com/erp/arledger/internal/domain/receivable"
	"github.com/erp/arledger/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRedis keeps values in a map and answers with prebuilt go-redis results
type fakeRedis struct {
	values  map[string]string
	ttls    map[string]time.Duration
	failSet error
	closed  bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.failSet != nil {
		return redis.NewStatusResult("", f.failSet)
	}
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisBundleStore_PutGet(t *testing.T) {
	client := newFakeRedis()
	store := newRedisBundleStore(client, "", 10*time.Minute)
	ctx := context.Background()

	snapshot := newSnapshot()
	require.NoError(t, store.Put(ctx, snapshot))

	key := defaultKeyPrefix + snapshot.Summary.RunID.String()
	assert.Contains(t, client.values, key)
	assert.Equal(t, 10*time.Minute, client.ttls[key])

	got, err := store.Get(ctx, snapshot.Summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Summary.RunID, got.Summary.RunID)
	table, ok := got.Table(receivable.TableAgingGlobal)
	require.True(t, ok)
	assert.Equal(t, []any{"0-30", "120.50"}, table.Rows[0])
}

func TestRedisBundleStore_Miss(t *testing.T) {
	store := newRedisBundleStore(newFakeRedis(), "test:", 0)

	_, err := store.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, report.ErrRunNotFound)
	assert.Equal(t, DefaultTTL, store.ttl)
}

func TestRedisBundleStore_Errors(t *testing.T) {
	client := newFakeRedis()
	client.failSet = errors.New("READONLY")
	store := newRedisBundleStore(client, "", time.Minute)

	assert.ErrorContains(t, store.Put(context.Background(), newSnapshot()), "failed to cache snapshot")

	id := uuid.New()
	client.values[store.key(id)] = "not json"
	_, err := store.Get(context.Background(), id)
	assert.ErrorContains(t, err, "failed to decode snapshot")

	require.NoError(t, store.Close())
	assert.True(t, client.closed)
}

func TestNewBundleStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory backend", func(t *testing.T) {
		cfg := &config.Config{Cache: config.CacheConfig{Backend: config.CacheMemory}}
		store, err := NewBundleStore(ctx, cfg, zap.NewNop(), false)
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &InMemoryBundleStore{}, store)
	})

	t.Run("unreachable redis falls back", func(t *testing.T) {
		cfg := &config.Config{
			Cache: config.CacheConfig{Backend: config.CacheRedis},
			Redis: config.RedisConfig{Host: "127.0.0.1", Port: 1},
		}
		store, err := NewBundleStore(ctx, cfg, zap.NewNop(), true)
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &InMemoryBundleStore{}, store)

		_, err = NewBundleStore(ctx, cfg, zap.NewNop(), false)
		assert.ErrorContains(t, err, "failed to connect to Redis")
	})
}
