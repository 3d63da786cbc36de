package alpaca

import (
	"sort"
	"sync"
)

// entityCache is a mutex-guarded mirror of records keyed by their id.
type entityCache[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func newEntityCache[T any]() *entityCache[T] {
	return &entityCache[T]{
		mu:    sync.RWMutex{},
		items: make(map[string]T),
	}
}

func (c *entityCache[T]) get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[id]

	return item, ok
}

func (c *entityCache[T]) set(id string, item T) {
	if id == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[id] = item
}

func (c *entityCache[T]) remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[id]
	delete(c.items, id)

	return ok
}

// removeWhere drops every record for which match returns true.
func (c *entityCache[T]) removeWhere(match func(T) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0

	for id, item := range c.items {
		if match(item) {
			delete(c.items, id)

			removed++
		}
	}

	return removed
}

func (c *entityCache[T]) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]T)
}

func (c *entityCache[T]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// values returns the cached records ordered by id.
func (c *entityCache[T]) values() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.items[id])
	}

	return out
}
