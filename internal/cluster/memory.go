package cluster

import (
	"context"
	"sync"

	"courier/pkg/platform/keymutex"
)

// MemoryCache is the single-node Cache. It backs non-clustered deployments
// and every unit test; the concurrency contract is identical to the Redis
// cache so the routing table cannot tell them apart.
type MemoryCache struct {
	mu         sync.RWMutex
	registered map[string]Entry
	anonymous  map[string]Entry
	sessions   map[string]map[string]struct{}

	keys *keymutex.KeyMutex
}

// NewMemoryCache returns an empty in-memory route cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		registered: make(map[string]Entry),
		anonymous:  make(map[string]Entry),
		sessions:   make(map[string]map[string]struct{}),
		keys:       keymutex.New(),
	}
}

func (c *MemoryCache) PutRegistered(_ context.Context, full string, e Entry) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed := c.registered[full]
	c.registered[full] = e
	return !existed, nil
}

func (c *MemoryCache) PutAnonymous(_ context.Context, full string, e Entry) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed := c.anonymous[full]
	c.anonymous[full] = e
	return !existed, nil
}

func (c *MemoryCache) Registered(_ context.Context, full string) (Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.registered[full]
	return e, ok, nil
}

func (c *MemoryCache) Anonymous(_ context.Context, full string) (Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.anonymous[full]
	return e, ok, nil
}

func (c *MemoryCache) DeleteRegistered(_ context.Context, full string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed := c.registered[full]
	delete(c.registered, full)
	return existed, nil
}

func (c *MemoryCache) DeleteAnonymous(_ context.Context, full string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed := c.anonymous[full]
	delete(c.anonymous, full)
	return existed, nil
}

func (c *MemoryCache) AddSession(_ context.Context, bare, full string) error {
	c.keys.Lock(bare)
	defer c.keys.Unlock(bare)

	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.sessions[bare]
	if !ok {
		set = make(map[string]struct{})
		c.sessions[bare] = set
	}
	set[full] = struct{}{}
	return nil
}

func (c *MemoryCache) Sessions(_ context.Context, bare string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := c.sessions[bare]
	if len(set) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(set))
	for full := range set {
		out = append(out, full)
	}
	return out, nil
}

func (c *MemoryCache) RemoveSession(_ context.Context, bare, full string) error {
	c.keys.Lock(bare)
	defer c.keys.Unlock(bare)

	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.sessions[bare]
	if !ok {
		return nil
	}
	delete(set, full)
	if len(set) == 0 {
		delete(c.sessions, bare)
	}
	return nil
}

func (c *MemoryCache) DropSessions(_ context.Context, bare string) error {
	c.keys.Lock(bare)
	defer c.keys.Unlock(bare)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, bare)
	return nil
}
