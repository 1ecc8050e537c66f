package talks

import "sync"

// genCache holds a value derived from the file index together with the
// index generation it was computed at.
type genCache[T any] struct {
	mu    sync.Mutex
	valid bool
	gen   uint64
	val   T
}

// get returns the cached value unless it was computed before gen, in which
// case compute runs and its result is stored under gen. The caller reads gen
// before compute observes the index, so a mutation racing with compute only
// causes one extra recomputation later.
func (c *genCache[T]) get(gen uint64, compute func() T) T {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid && c.gen >= gen {
		return c.val
	}
	c.val = compute()
	c.gen = gen
	c.valid = true
	return c.val
}
