package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Redis shares cached values between server instances. Values are stored as
// JSON with a server-side expiry; any Redis failure is treated as a miss.
type Redis[V any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *logrus.Logger
}

func NewRedis[V any](client *redis.Client, prefix string, ttl time.Duration, log *logrus.Logger) *Redis[V] {
	return &Redis[V]{client: client, prefix: prefix, ttl: ttl, log: log}
}

func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool) {
	var v V
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return v, false
	}
	if err != nil {
		r.log.Warnf("redis get %s%s: %v", r.prefix, key, err)
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		r.log.Warnf("redis decode %s%s: %v", r.prefix, key, err)
		return v, false
	}
	return v, true
}

func (r *Redis[V]) Set(ctx context.Context, key string, value V) {
	data, err := json.Marshal(value)
	if err != nil {
		r.log.Warnf("redis encode %s%s: %v", r.prefix, key, err)
		return
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		r.log.Warnf("redis set %s%s: %v", r.prefix, key, err)
	}
}
