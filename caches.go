package dbus

import (
	"errors"
	"fmt"
	"sync"
)

// errNotFound is the sentinel returned by cache.Get when the key has
// no entry yet.
var errNotFound = errors.New("not found in cache")

// cache is a concurrency-safe memoization table, used to avoid
// re-deriving signatures and encoder/decoder closures for types that
// get marshalled repeatedly over a connection's lifetime.
type cache[K comparable, V any] struct {
	m sync.Map
}

type cacheEntry[V any] struct {
	val V
	err error
}

func (c *cache[K, V]) Get(k K) (V, error) {
	var zero V
	v, ok := c.m.Load(k)
	if !ok {
		return zero, errNotFound
	}
	ent, ok := v.(cacheEntry[V])
	if !ok {
		panic(fmt.Sprintf("mystery value %v (%T) in cache", v, v))
	}
	return ent.val, ent.err
}

func (c *cache[K, V]) Set(k K, v V) {
	c.m.Store(k, cacheEntry[V]{val: v})
}

func (c *cache[K, V]) SetErr(k K, err error) {
	var zero V
	c.m.Store(k, cacheEntry[V]{val: zero, err: err})
}
