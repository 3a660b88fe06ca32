// Package memory stores archived page bodies in-memory for development.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Archive keeps raw bodies in a map and returns pseudo URIs.
type Archive struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an empty in-memory Archive.
func New() *Archive {
	return &Archive{data: make(map[string][]byte)}
}

// Put persists the body under key and returns a memory:// URI.
func (a *Archive) Put(_ context.Context, key, _ string, body []byte) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[key] = append([]byte(nil), body...)
	return "memory://" + key, nil
}

// Get returns a stored body. Test helper.
func (a *Archive) Get(key string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	body, ok := a.data[key]
	return body, ok
}
