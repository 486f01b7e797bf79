// Package blobstore abstracts opaque encrypted-byte storage by key. The
// production implementation targets an S3-compatible backend; the in-memory
// implementation backs tests.
package blobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Client stores and retrieves opaque byte ranges by key. Implementations
// only ever see ciphertext.
type Client interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns common.ErrorNotFound for unknown keys.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete is idempotent: deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// NewStorageKey returns a fresh date-partitioned object key.
func NewStorageKey() string {
	d := time.Now()
	return fmt.Sprintf("capsules/%d/%d/%d/%v", d.Year(), d.Month(), d.Day(), uuid.New())
}
