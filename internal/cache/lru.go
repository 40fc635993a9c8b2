package cache

import (
	"sync"
	"time"
)

// LRUCache holds at most capacity entries, each valid for ttl after it was
// last set. When full, the entry read or written longest ago goes first.
type LRUCache[T any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	byKey    map[string]*entry[T]
	// head.next is the most recently used entry, head.prev the least.
	head entry[T]
}

type entry[T any] struct {
	key        string
	value      T
	deadline   time.Time
	prev, next *entry[T]
}

var _ Cache[int] = (*LRUCache[int])(nil)

// NewLRUCache returns an empty cache. A capacity below one is raised to one.
func NewLRUCache[T any](capacity int, ttl time.Duration) *LRUCache[T] {
	c := &LRUCache[T]{
		capacity: max(capacity, 1),
		ttl:      ttl,
		now:      time.Now,
		byKey:    make(map[string]*entry[T], max(capacity, 1)),
	}
	c.head.prev, c.head.next = &c.head, &c.head
	return c
}

// WithClock replaces the time source.
func (c *LRUCache[T]) WithClock(now func() time.Time) *LRUCache[T] {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

func (c *LRUCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byKey[key]
	switch {
	case !ok:
		var zero T
		return zero, false
	case c.now().After(e.deadline):
		c.drop(e)
		var zero T
		return zero, false
	}
	c.touch(e)
	return e.value, true
}

func (c *LRUCache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := c.now().Add(c.ttl)
	if e, ok := c.byKey[key]; ok {
		e.value, e.deadline = value, deadline
		c.touch(e)
		return
	}
	if len(c.byKey) == c.capacity {
		c.drop(c.head.prev)
	}
	e := &entry[T]{key: key, value: value, deadline: deadline}
	c.byKey[key] = e
	c.link(e)
}

func (c *LRUCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}

// touch moves e to the front.
func (c *LRUCache[T]) touch(e *entry[T]) {
	c.unlink(e)
	c.link(e)
}

func (c *LRUCache[T]) link(e *entry[T]) {
	e.prev, e.next = &c.head, c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *LRUCache[T]) unlink(e *entry[T]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev, e.next = nil, nil
}

func (c *LRUCache[T]) drop(e *entry[T]) {
	c.unlink(e)
	delete(c.byKey, e.key)
}
