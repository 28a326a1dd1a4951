package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/arledger/internal/application/report"
	"github.com/google/uuid"
)

// DefaultTTL is how long a run snapshot stays cached when no TTL is configured
const DefaultTTL = 24 * time.Hour

type entry struct {
	snapshot  *report.Snapshot
	expiresAt time.Time
}

// InMemoryBundleStore keeps run snapshots in a map. It is suitable for a
// single server instance and for the CLI.
type InMemoryBundleStore struct {
	mu        sync.RWMutex
	entries   map[uuid.UUID]entry
	ttl       time.Duration
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryBundleStore creates the store and starts the janitor that
// evicts expired snapshots
func NewInMemoryBundleStore(ttl time.Duration) *InMemoryBundleStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	store := &InMemoryBundleStore{
		entries:  make(map[uuid.UUID]entry),
		ttl:      ttl,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	store.wg.Add(1)
	go store.cleanupLoop(janitorInterval(ttl))

	return store
}

func janitorInterval(ttl time.Duration) time.Duration {
	interval := ttl / 2
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// Put caches the snapshot under its run ID
func (s *InMemoryBundleStore) Put(ctx context.Context, snapshot *report.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[snapshot.Summary.RunID] = entry{
		snapshot:  snapshot,
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

// Get returns report.ErrRunNotFound for unknown or expired runs
func (s *InMemoryBundleStore) Get(ctx context.Context, runID uuid.UUID) (*report.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.entries[runID]
	if !exists || s.now().After(e.expiresAt) {
		return nil, report.ErrRunNotFound
	}
	return e.snapshot, nil
}

// Close stops the janitor. Safe to call multiple times.
func (s *InMemoryBundleStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

func (s *InMemoryBundleStore) cleanupLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *InMemoryBundleStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, id)
		}
	}
}

// Size returns the number of entries, expired ones included until the
// janitor runs
func (s *InMemoryBundleStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

var _ report.BundleStore = (*InMemoryBundleStore)(nil)
