package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erp/arledger/internal/application/report"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "arledger:run:"

// redisClient is the subset of the go-redis client the store needs
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// RedisBundleStore keeps run snapshots in Redis as JSON so several server
// instances can answer table queries for the same run
type RedisBundleStore struct {
	client    redisClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisBundleStore connects to Redis and verifies the connection
func NewRedisBundleStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisBundleStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisBundleStore(client, defaultKeyPrefix, ttl), nil
}

// NewRedisBundleStoreWithClient creates a store over an existing client
func NewRedisBundleStoreWithClient(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisBundleStore {
	return newRedisBundleStore(client, keyPrefix, ttl)
}

func newRedisBundleStore(client redisClient, keyPrefix string, ttl time.Duration) *RedisBundleStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisBundleStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisBundleStore) key(runID uuid.UUID) string {
	return s.keyPrefix + runID.String()
}

// Put stores the snapshot with the configured TTL
func (s *RedisBundleStore) Put(ctx context.Context, snapshot *report.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(snapshot.Summary.RunID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache snapshot: %w", err)
	}
	return nil
}

// Get returns report.ErrRunNotFound when the key is absent or expired
func (s *RedisBundleStore) Get(ctx context.Context, runID uuid.UUID) (*report.Snapshot, error) {
	data, err := s.client.Get(ctx, s.key(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, report.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snapshot report.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}

// Close closes the Redis client
func (s *RedisBundleStore) Close() error {
	return s.client.Close()
}

var _ report.BundleStore = (*RedisBundleStore)(nil)
