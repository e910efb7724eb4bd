package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupePrefix = "notified:"

// RedisDeduper claims event ids with SET NX so redelivered events are sent
// once. Claims expire after ttl.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, eventID string) (bool, error) {
	return d.client.SetNX(ctx, dedupePrefix+eventID, 1, d.ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, eventID string) error {
	return d.client.Del(ctx, dedupePrefix+eventID).Err()
}
