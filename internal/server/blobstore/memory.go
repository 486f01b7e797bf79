package blobstore

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/timecapsule/internal/common"
)

// MemoryClient is an in-memory Client used in tests.
type MemoryClient struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	// FailPut/FailGet/FailDelete, when set, are returned instead of touching
	// the store. Tests use them to simulate storage outages.
	FailPut    error
	FailGet    error
	FailDelete error
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{blobs: make(map[string][]byte)}
}

func (c *MemoryClient) Put(ctx context.Context, key string, data []byte) error {
	if c.FailPut != nil {
		return c.FailPut
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (c *MemoryClient) Get(ctx context.Context, key string) ([]byte, error) {
	if c.FailGet != nil {
		return nil, c.FailGet
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.blobs[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return append([]byte(nil), data...), nil
}

func (c *MemoryClient) Delete(ctx context.Context, key string) error {
	if c.FailDelete != nil {
		return c.FailDelete
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.blobs, key)
	return nil
}

// Len reports the number of stored blobs.
func (c *MemoryClient) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blobs)
}

// Has reports whether a blob exists under key.
func (c *MemoryClient) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.blobs[key]
	return ok
}
