package actionstore

import (
	"context"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	Data     *cache.Cache
	Cooldown time.Duration
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(redisURL string, cooldown time.Duration) (*RedisStore, error) {
	ctx := context.Background()
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	data := cache.New(&cache.Options{
		Redis:      rdb,
		LocalCache: cache.NewTinyLFU(10_000, cooldown),
	})
	return &RedisStore{
		Data:     data,
		Cooldown: cooldown,
	}, nil
}

func redisActionKey(guildID, authorID string) string {
	return "robot/actioned/" + subjectKey(guildID, authorID)
}

func (s *RedisStore) Mark(ctx context.Context, guildID, authorID string, at time.Time) error {
	return s.Data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   redisActionKey(guildID, authorID),
		Value: at.UnixMilli(),
		TTL:   s.Cooldown,
	})
}

func (s *RedisStore) LastActioned(ctx context.Context, guildID, authorID string) (*time.Time, error) {
	var ms int64
	err := s.Data.Get(ctx, redisActionKey(guildID, authorID), &ms)
	if err == cache.ErrCacheMiss {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	at := time.UnixMilli(ms)
	return &at, nil
}
