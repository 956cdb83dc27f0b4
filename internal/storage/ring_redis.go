package storage

import (
	"context"

	"github.com/go-redis/redis/v8"
)

// RedisHintMirror mirrors the ring's in-memory hint table into a Redis
// hash so an operator can inspect in-flight hints with redis-cli while
// the process runs. It implements HintMirror. The in-memory table in
// Ring remains authoritative; mirror errors are never surfaced to
// callers of Ring's placement methods.
type RedisHintMirror struct {
	client *redis.Client
	key    string
}

// NewRedisHintMirror wraps an already-configured client. key is the
// Redis hash name, typically "energyguard:hints".
func NewRedisHintMirror(client *redis.Client, key string) *RedisHintMirror {
	return &RedisHintMirror{client: client, key: key}
}

// SetHint writes the hint as a "holder:value" field in the mirror hash.
func (r *RedisHintMirror) SetHint(key string, holder int, value string) error {
	return r.client.HSet(context.Background(), r.key, key, encodeHint(holder, value)).Err()
}

// DeleteHint removes key's field from the mirror hash.
func (r *RedisHintMirror) DeleteHint(key string) error {
	return r.client.HDel(context.Background(), r.key, key).Err()
}

func encodeHint(holder int, value string) string {
	return decimal(holder) + ":" + value
}
