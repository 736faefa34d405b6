// Package cooldown throttles repeated actions per key using redis SETNX.
package cooldown

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "invoicehub:cooldown:"

// Window rejects a key for ttl after it was last acquired.
// A nil Window (or one without a client) always allows.
type Window struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewWindow(rdb *redis.Client, prefix string, ttl time.Duration) *Window {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Window{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Acquire reports whether key is outside its cooldown and, if so, starts a new one.
func (w *Window) Acquire(ctx context.Context, key string) (bool, error) {
	if w == nil || w.rdb == nil || key == "" {
		return true, nil
	}
	ok, err := w.rdb.SetNX(ctx, w.prefix+hashKey(key), "1", w.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown setnx: %w", err)
	}
	return ok, nil
}

// Release ends the cooldown for key early.
func (w *Window) Release(ctx context.Context, key string) error {
	if w == nil || w.rdb == nil || key == "" {
		return nil
	}
	if err := w.rdb.Del(ctx, w.prefix+hashKey(key)).Err(); err != nil {
		return fmt.Errorf("cooldown del: %w", err)
	}
	return nil
}

// Keys are hashed so raw emails never land in redis.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
