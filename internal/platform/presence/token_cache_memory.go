// Package presence holds the device-token cache backends. The cache keeps
// the push token a user presented at verification so broadcast can reach
// them once their connection is gone.
package presence

import (
	"context"
	"sync"

	"github.com/amaclean2/Couloirs/pkg/relay"
)

// MemoryTokenCache is the in-process backend, used when the relay runs as a
// single instance. Implements relay.DeviceTokenCache.
type MemoryTokenCache struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewMemoryTokenCache creates an empty in-memory cache.
func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{tokens: make(map[string]string)}
}

func (c *MemoryTokenCache) Set(_ context.Context, userID, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[userID] = token
	return nil
}

func (c *MemoryTokenCache) Fetch(_ context.Context, userID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	token, ok := c.tokens[userID]
	if !ok {
		return "", relay.ErrTokenNotFound
	}
	return token, nil
}

func (c *MemoryTokenCache) Delete(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, userID)
	return nil
}

func (c *MemoryTokenCache) Close() error { return nil }
