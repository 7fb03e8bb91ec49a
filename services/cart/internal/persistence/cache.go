// Package persistence stores the minimal cart projection between process
// lifetimes so a guest cart survives restarts.
package persistence

import (
	"context"
	"errors"
)

// ErrCacheMiss is returned by Cache.Get when the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

// Cache defines the key-value operations the bridge persists through.
type Cache interface {
	// Get returns the raw value stored under key, or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, overwriting any existing value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
