package window

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ro-community/robot/automod/event"

	"golang.org/x/sync/semaphore"
)

// readers take one unit of the semaphore, writers take all of them
const maxReaders = 1 << 20

type MemStore struct {
	Retention time.Duration

	sem     *semaphore.Weighted
	records []event.MessageRecord
}

var _ Store = (*MemStore)(nil)

func NewMemStore(retention time.Duration) *MemStore {
	return &MemStore{
		Retention: retention,
		sem:       semaphore.NewWeighted(maxReaders),
	}
}

func (s *MemStore) acquire(ctx context.Context, n int64) error {
	if err := s.sem.Acquire(ctx, n); err != nil {
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	}
	return nil
}

func (s *MemStore) Insert(ctx context.Context, rec event.MessageRecord) error {
	if err := s.acquire(ctx, maxReaders); err != nil {
		return err
	}
	defer s.sem.Release(maxReaders)

	s.evictLocked(rec.ArrivedAt)
	s.records = append(s.records, rec)
	return nil
}

func (s *MemStore) EvictExpired(ctx context.Context, now time.Time) (int, error) {
	if err := s.acquire(ctx, maxReaders); err != nil {
		return 0, err
	}
	defer s.sem.Release(maxReaders)

	return s.evictLocked(now), nil
}

// retains unexpired records in their existing relative order. only timestamps are consulted, not position.
func (s *MemStore) evictLocked(now time.Time) int {
	before := len(s.records)
	s.records = slices.DeleteFunc(s.records, func(r event.MessageRecord) bool {
		return r.Expired(now, s.Retention)
	})
	return before - len(s.records)
}

func (s *MemStore) Snapshot(ctx context.Context, now time.Time) ([]event.MessageRecord, error) {
	if err := s.acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	out := make([]event.MessageRecord, 0, len(s.records))
	for _, r := range s.records {
		if r.Expired(now, s.Retention) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Number of stored records, including any expired ones not yet evicted.
func (s *MemStore) Len() int {
	if err := s.sem.Acquire(context.Background(), 1); err != nil {
		return 0
	}
	defer s.sem.Release(1)
	return len(s.records)
}
