// Package cache provides the key/value stores that back the query cache and the
// session display slot. Every store satisfies Store; misses are reported with an
// error wrapping ErrNotFound so callers can tell them apart from backend failures.
package cache

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is wrapped by every Store implementation on a cache miss.
var ErrNotFound = errors.New("not found in cache")

// Store is a generic interface for a caching layer.
type Store[K comparable, V any] interface {
	// Fetch retrieves an item from the store.
	Fetch(ctx context.Context, key K) (V, error)
	// Write adds or replaces an item in the store.
	Write(ctx context.Context, key K, value V) error
	// Invalidate removes an item. Removing a missing key is not an error.
	Invalidate(ctx context.Context, key K) error
	// Closer is included for implementations that manage network connections.
	io.Closer
}

// IsNotFound reports whether err is a cache miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
