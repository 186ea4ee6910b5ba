package window

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ro-community/robot/automod/event"

	"github.com/redis/go-redis/v9"
)

var redisWindowKey string = "robot/window"

// Window kept in a redis sorted set, scored by arrival time in unix milliseconds. Lets several daemon processes share one window.
type RedisStore struct {
	Client    *redis.Client
	Retention time.Duration
	Key       string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(redisURL string, retention time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return &RedisStore{
		Client:    rdb,
		Retention: retention,
		Key:       redisWindowKey,
	}, nil
}

// records at or below this score are expired
func (s *RedisStore) cutoff(now time.Time) string {
	return strconv.FormatInt(now.Add(-s.Retention).UnixMilli(), 10)
}

func wrapRedisErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	}
	return err
}

func (s *RedisStore) Insert(ctx context.Context, rec event.MessageRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	// MULTI/EXEC, so eviction and insert are applied as one step
	_, err = s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, s.Key, "-inf", s.cutoff(rec.ArrivedAt))
		pipe.ZAdd(ctx, s.Key, redis.Z{
			Score:  float64(rec.ArrivedAt.UnixMilli()),
			Member: string(raw),
		})
		// idle windows clean themselves up
		pipe.PExpire(ctx, s.Key, s.Retention)
		return nil
	})
	return wrapRedisErr(err)
}

func (s *RedisStore) EvictExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := s.Client.ZRemRangeByScore(ctx, s.Key, "-inf", s.cutoff(now)).Result()
	if err != nil {
		return 0, wrapRedisErr(err)
	}
	return int(n), nil
}

func (s *RedisStore) Snapshot(ctx context.Context, now time.Time) ([]event.MessageRecord, error) {
	vals, err := s.Client.ZRangeByScore(ctx, s.Key, &redis.ZRangeBy{
		Min: "(" + s.cutoff(now),
		Max: "+inf",
	}).Result()
	if err == redis.Nil {
		return []event.MessageRecord{}, nil
	} else if err != nil {
		return nil, wrapRedisErr(err)
	}

	out := make([]event.MessageRecord, 0, len(vals))
	for _, v := range vals {
		var rec event.MessageRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("decoding window record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
