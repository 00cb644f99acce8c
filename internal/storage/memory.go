package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonathan/post-studio/internal/generation"
)

// MemorySchemeName is the handle scheme used by MemoryStore.
const MemorySchemeName = "mem"

// MemoryStore keeps artifacts in process memory. Used by tests and when no object store is
// configured; contents are lost on exit.
type MemoryStore struct {
	bucket string

	mu      sync.RWMutex
	objects map[string]Object
}

// NewMemoryStore creates an empty store whose handles use bucket.
func NewMemoryStore(bucket string) *MemoryStore {
	if bucket == "" {
		bucket = "artifacts"
	}
	return &MemoryStore{bucket: bucket, objects: make(map[string]Object)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, data []byte, contentType string) (generation.Handle, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("refusing to store an empty artifact")
	}
	key := newKey(contentType)

	s.mu.Lock()
	s.objects[key] = Object{
		Key:          key,
		ContentType:  contentType,
		Data:         slices.Clone(data),
		LastModified: time.Now(),
	}
	s.mu.Unlock()

	return Location{Scheme: MemorySchemeName, Bucket: s.bucket, Key: key}.Handle(), nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, handle generation.Handle) (Object, error) {
	loc, err := ParseHandle(handle)
	if err != nil {
		return Object{}, err
	}
	if loc.Scheme != MemorySchemeName || loc.Bucket != s.bucket {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}

	s.mu.RLock()
	obj, ok := s.objects[loc.Key]
	s.mu.RUnlock()
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	obj.Data = slices.Clone(obj.Data)
	return obj, nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
