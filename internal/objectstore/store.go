// Package objectstore persists raw uploads and prediction results as opaque
// byte blobs addressed by key.
package objectstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and Take when no object exists at the key.
var ErrNotFound = errors.New("objectstore: object not found")

// Store is the minimal blob API used by the classification pipeline.
//
// Put must replace the object atomically: a concurrent Get observes either the
// previous state or the complete new value, never a partial write. Delete of a
// missing key is not an error.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Taker is implemented by stores that can read and delete an object in one
// atomic step, so that concurrent readers observe the value at most once.
type Taker interface {
	Take(ctx context.Context, key string) ([]byte, error)
}
