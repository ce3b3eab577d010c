// Package memory stores artifacts in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store keeps artifacts in a map and returns pseudo URIs.
type Store struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// Object is one stored artifact.
type Object struct {
	ContentType string
	Data        []byte
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{objects: make(map[string]Object)}
}

// Save keeps a copy of the content and returns a memory:// URI.
func (s *Store) Save(_ context.Context, objectName, contentType string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectName] = Object{
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
	}
	return fmt.Sprintf("memory://%s", objectName), nil
}

// Get returns a stored artifact.
func (s *Store) Get(objectName string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[objectName]
	return obj, ok
}

// Names lists stored object names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports how many artifacts are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
