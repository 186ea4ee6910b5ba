package actionstore

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type MemStore struct {
	Data *expirable.LRU[string, time.Time]
}

var _ Store = (*MemStore)(nil)

func NewMemStore(capacity int, cooldown time.Duration) *MemStore {
	return &MemStore{
		Data: expirable.NewLRU[string, time.Time](capacity, nil, cooldown),
	}
}

func (s *MemStore) Mark(ctx context.Context, guildID, authorID string, at time.Time) error {
	s.Data.Add(subjectKey(guildID, authorID), at)
	return nil
}

func (s *MemStore) LastActioned(ctx context.Context, guildID, authorID string) (*time.Time, error) {
	v, ok := s.Data.Get(subjectKey(guildID, authorID))
	if !ok {
		return nil, nil
	}
	return &v, nil
}
