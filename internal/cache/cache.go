// Package cache keeps recently loaded values, such as resolved time zones,
// in memory for a bounded time.
package cache

// Cache is the lookup surface callers depend on.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Size() int
}

// Loader produces the value for a missing key.
type Loader[T any] func(key string) (T, error)

// GetOrLoad returns the cached value for key, calling load and caching its
// result on a miss. Load errors are returned and not cached.
func GetOrLoad[T any](c Cache[T], key string, load Loader[T]) (T, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load(key)
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}
