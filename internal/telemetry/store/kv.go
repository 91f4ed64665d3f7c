// Package store persists pipeline state (queue, retry state, metrics) as namespaced key/value blobs.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by KV.Get when the key has never been written.
var ErrNotFound = errors.New("store: key not found")

// KV is a restart-surviving key/value store scoped to one namespace.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}
