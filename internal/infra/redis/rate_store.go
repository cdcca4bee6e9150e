package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateStore counts attempts per key in fixed windows shared through Redis.
// The first hit of a window sets the key expiry, so an expired key starts a new window.
type RateStore struct {
	client *redis.Client
	window time.Duration
	prefix string
}

func NewRateStore(client *redis.Client, window time.Duration) *RateStore {
	return &RateStore{client: client, window: window, prefix: "ratelimit:"}
}

// Hit increments the counter and reads its expiry in one transaction. A key left without
// an expiry gets one on the next hit, so a failed PEXPIRE cannot pin the window open.
func (s *RateStore) Hit(ctx context.Context, key string) (int, error) {
	k := s.key(key)
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	if _, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		ttl = pipe.PTTL(ctx, k)
		return nil
	}); err != nil {
		return 0, err
	}
	if ttl.Val() < 0 {
		if err := s.client.PExpire(ctx, k, s.window).Err(); err != nil {
			return 0, err
		}
	}
	return int(incr.Val()), nil
}

func (s *RateStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *RateStore) key(key string) string {
	return s.prefix + key
}
