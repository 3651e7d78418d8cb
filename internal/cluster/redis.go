package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"courier/pkg/platform/keymutex"
	"courier/pkg/platform/sentinel"
)

const (
	registeredRoutesKey = "courier:routes:registered"
	anonymousRoutesKey  = "courier:routes:anonymous"
	sessionIndexPrefix  = "courier:sessions:"
)

// RedisCache is the clustered Cache: route entries live in Redis hashes and
// the bare-address session index in Redis sets, so every node sees the same
// state. Calls are bounded by a timeout; a timed-out lookup reports absence
// (fail open toward non-delivery, never toward duplicate delivery).
type RedisCache struct {
	client  *redis.Client
	timeout time.Duration
	keys    *keymutex.KeyMutex
}

// RedisCacheOption configures a RedisCache.
type RedisCacheOption func(*RedisCache)

// WithTimeout bounds each Redis round-trip.
func WithTimeout(d time.Duration) RedisCacheOption {
	return func(c *RedisCache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewRedisCache returns a Cache backed by the given Redis client. The client
// lifecycle is managed by the caller.
func NewRedisCache(client *redis.Client, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{
		client:  client,
		timeout: 5 * time.Second,
		keys:    keymutex.New(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *RedisCache) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *RedisCache) put(ctx context.Context, hash, full string, e Entry) (bool, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	raw, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("encode route entry: %w", err)
	}
	added, err := c.client.HSet(ctx, hash, full, raw).Result()
	if err != nil {
		return false, fmt.Errorf("put route: %w", translate(err))
	}
	return added == 1, nil
}

func (c *RedisCache) get(ctx context.Context, hash, full string) (Entry, bool, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	raw, err := c.client.HGet(ctx, hash, full).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		// Absence is the safe answer for an unreachable backend; the caller
		// escalates through the normal undeliverable path.
		if errors.Is(translate(err), sentinel.ErrUnavailable) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("get route: %w", err)
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode route entry: %w", err)
	}
	return e, true, nil
}

func (c *RedisCache) delete(ctx context.Context, hash, full string) (bool, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	removed, err := c.client.HDel(ctx, hash, full).Result()
	if err != nil {
		return false, fmt.Errorf("delete route: %w", translate(err))
	}
	return removed == 1, nil
}

func (c *RedisCache) PutRegistered(ctx context.Context, full string, e Entry) (bool, error) {
	return c.put(ctx, registeredRoutesKey, full, e)
}

func (c *RedisCache) PutAnonymous(ctx context.Context, full string, e Entry) (bool, error) {
	return c.put(ctx, anonymousRoutesKey, full, e)
}

func (c *RedisCache) Registered(ctx context.Context, full string) (Entry, bool, error) {
	return c.get(ctx, registeredRoutesKey, full)
}

func (c *RedisCache) Anonymous(ctx context.Context, full string) (Entry, bool, error) {
	return c.get(ctx, anonymousRoutesKey, full)
}

func (c *RedisCache) DeleteRegistered(ctx context.Context, full string) (bool, error) {
	return c.delete(ctx, registeredRoutesKey, full)
}

func (c *RedisCache) DeleteAnonymous(ctx context.Context, full string) (bool, error) {
	return c.delete(ctx, anonymousRoutesKey, full)
}

func (c *RedisCache) AddSession(ctx context.Context, bare, full string) error {
	c.keys.Lock(bare)
	defer c.keys.Unlock(bare)

	ctx, cancel := c.bound(ctx)
	defer cancel()
	if err := c.client.SAdd(ctx, sessionIndexPrefix+bare, full).Err(); err != nil {
		return fmt.Errorf("add session %s: %w", full, translate(err))
	}
	return nil
}

func (c *RedisCache) Sessions(ctx context.Context, bare string) ([]string, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	members, err := c.client.SMembers(ctx, sessionIndexPrefix+bare).Result()
	if err != nil {
		if errors.Is(translate(err), sentinel.ErrUnavailable) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions for %s: %w", bare, err)
	}
	return members, nil
}

func (c *RedisCache) RemoveSession(ctx context.Context, bare, full string) error {
	c.keys.Lock(bare)
	defer c.keys.Unlock(bare)

	ctx, cancel := c.bound(ctx)
	defer cancel()

	key := sessionIndexPrefix + bare
	if err := c.client.SRem(ctx, key, full).Err(); err != nil {
		return fmt.Errorf("remove session %s: %w", full, translate(err))
	}
	n, err := c.client.SCard(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check session set %s: %w", bare, translate(err))
	}
	if n == 0 {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("drop empty session set %s: %w", bare, translate(err))
		}
	}
	return nil
}

func (c *RedisCache) DropSessions(ctx context.Context, bare string) error {
	c.keys.Lock(bare)
	defer c.keys.Unlock(bare)

	ctx, cancel := c.bound(ctx)
	defer cancel()
	if err := c.client.Del(ctx, sessionIndexPrefix+bare).Err(); err != nil {
		return fmt.Errorf("drop sessions for %s: %w", bare, translate(err))
	}
	return nil
}

// translate maps transport-level failures onto the sentinel the routing
// layers understand.
func translate(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	return err
}
