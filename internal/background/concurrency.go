package background

import (
	"context"
	"sync"
)

// ConcurrencyManager hands out counting-semaphore permits keyed by an
// arbitrary string (typically the tool name or workspace the background
// task runs against). Keys are created on first use; there is no way to
// pre-register a key with a non-default limit other than SetLimit.
type ConcurrencyManager struct {
	mu          sync.Mutex
	defaultLimit int
	limits      map[string]int
	sems        map[string]chan struct{}
}

// NewConcurrencyManager returns a manager whose keys default to
// defaultLimit permits unless overridden with SetLimit.
func NewConcurrencyManager(defaultLimit int) *ConcurrencyManager {
	if defaultLimit <= 0 {
		defaultLimit = 1
	}
	return &ConcurrencyManager{
		defaultLimit: defaultLimit,
		limits:       make(map[string]int),
		sems:         make(map[string]chan struct{}),
	}
}

// SetLimit overrides the permit count for a specific key. It only takes
// effect for semaphores not yet created; changing a live key's limit is not
// supported, matching the single-flight-per-key model the scheduler uses.
func (c *ConcurrencyManager) SetLimit(key string, limit int) {
	if limit <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limits[key] = limit
}

func (c *ConcurrencyManager) semFor(key string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sem, ok := c.sems[key]; ok {
		return sem
	}
	limit := c.defaultLimit
	if override, ok := c.limits[key]; ok {
		limit = override
	}
	sem := make(chan struct{}, limit)
	c.sems[key] = sem
	return sem
}

// Acquire blocks until a permit for key is available or ctx is canceled.
func (c *ConcurrencyManager) Acquire(ctx context.Context, key string) error {
	sem := c.semFor(key)
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire attempts to acquire a permit without blocking.
func (c *ConcurrencyManager) TryAcquire(key string) bool {
	sem := c.semFor(key)
	select {
	case sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a permit for key. Release is decoupled from any specific
// Acquire call: it is valid to acquire on one goroutine and release on
// another, matching the originating design's explicit add_permits(1) model
// rather than an RAII-style permit guard.
func (c *ConcurrencyManager) Release(key string) {
	sem := c.semFor(key)
	select {
	case <-sem:
	default:
		// Releasing more than was acquired is a caller bug; ignore rather
		// than panic so a buggy caller can't take down the scheduler.
	}
}

// InUse reports how many permits are currently held for key.
func (c *ConcurrencyManager) InUse(key string) int {
	sem := c.semFor(key)
	return len(sem)
}

// Limit reports the configured permit count for key.
func (c *ConcurrencyManager) Limit(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if override, ok := c.limits[key]; ok {
		return override
	}
	return c.defaultLimit
}
