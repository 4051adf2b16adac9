// Package store defines the shared state store used by the control loop and
// the keys the external writers maintain in it.
package store

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when no live connection could be acquired
// within the configured retry budget.
var ErrUnavailable = errors.New("state store unavailable")

// ErrClosed is returned by operations issued after Close.
var ErrClosed = errors.New("state store closed")

// StateStore is the key-value backend shared with the fleet.
type StateStore interface {
	// Get returns the string value stored at key. found is false when the
	// key does not exist.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	// ListAll returns every element of the list at key, in order.
	ListAll(ctx context.Context, key string) ([]string, error)
	// ListAllBatch reads several lists in a single round trip. The result
	// has one entry per key, in the same order.
	ListAllBatch(ctx context.Context, keys []string) ([][]string, error)
	// BitCount returns the number of set bits of the bitmap at key.
	BitCount(ctx context.Context, key string) (int64, error)
	Close() error
}
