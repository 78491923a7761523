// Package cache provides a generic, thread-safe TTL cache. The gateway keeps
// its per-session coordinators in one so idle sessions are evicted and their
// in-flight queries cancelled.
package cache

import (
	"github.com/c360/sparqlstream/errors"
)

// Cache is a string-keyed cache of V.
type Cache[V any] interface {
	// Get returns the value for key. With sliding expiry a hit extends the
	// entry's lifetime.
	Get(key string) (V, bool)

	// Peek is Get without sliding the expiry or counting a hit or miss.
	Peek(key string) (V, bool)

	// Set stores value and reports whether the key is new.
	Set(key string, value V) (bool, error)

	// Delete removes key, invoking the eviction callback.
	Delete(key string) (bool, error)

	Size() int
	Keys() []string
	Stats() *Statistics

	// Close stops background cleanup and evicts every remaining entry.
	Close() error
}

// EvictCallback is called with every entry leaving the cache, whether it
// expired, was deleted or was cleared on Close.
type EvictCallback[V any] func(key string, value V)

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
