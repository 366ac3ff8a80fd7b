package object

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	tferrors "github.com/transitflow/transitflow/pkg/errors"
	"github.com/transitflow/transitflow/pkg/interfaces"
)

// MemoryStorage implements ObjectStore in memory (for testing and dry runs).
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
	meta    map[string]interfaces.ObjectInfo
}

// NewMemoryStorage creates a new in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		objects: make(map[string][]byte),
		meta:    make(map[string]interfaces.ObjectInfo),
	}
}

// Scheme returns "memory".
func (s *MemoryStorage) Scheme() string {
	return "memory"
}

// Put stores data in memory.
func (s *MemoryStorage) Put(ctx context.Context, key string, data io.Reader, opts interfaces.PutOptions) (interfaces.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.ObjectInfo{}, tferrors.FromContext(err, "put")
	}

	payload, err := io.ReadAll(data)
	if err != nil {
		return interfaces.ObjectInfo{}, tferrors.StorageUnavailable(err, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.IfNotExists {
		if _, ok := s.objects[key]; ok {
			return interfaces.ObjectInfo{}, tferrors.KeyExists(key)
		}
	}

	sum := md5.Sum(payload)
	info := interfaces.ObjectInfo{
		Key:          key,
		Size:         int64(len(payload)),
		LastModified: time.Now(),
		ETag:         hex.EncodeToString(sum[:]),
		ContentType:  opts.ContentType,
		Metadata:     opts.Metadata,
	}
	s.objects[key] = payload
	s.meta[key] = info
	return info, nil
}

// Get returns a reader for the object.
func (s *MemoryStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists checks if an object exists.
func (s *MemoryStorage) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.objects[key]
	return ok, nil
}

// Head returns object metadata.
func (s *MemoryStorage) Head(ctx context.Context, key string) (interfaces.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.meta[key]
	if !ok {
		return interfaces.ObjectInfo{}, fmt.Errorf("%w: %s", interfaces.ErrNotFound, key)
	}
	return info, nil
}

// List lists objects with a prefix.
func (s *MemoryStorage) List(ctx context.Context, prefix string) ([]interfaces.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []interfaces.ObjectInfo
	for key, info := range s.meta {
		if strings.HasPrefix(key, prefix) {
			results = append(results, info)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Key < results[j].Key
	})
	return results, nil
}

// Len returns the number of stored objects.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Verify interface compliance
var (
	_ interfaces.ObjectStore = (*LocalStorage)(nil)
	_ interfaces.ObjectStore = (*MemoryStorage)(nil)
)
