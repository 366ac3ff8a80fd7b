// Package interfaces declares the contracts shared between transitflow
// components and their pluggable backends.
package interfaces

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned (wrapped) when a key does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore is a flat key/value object store for collected artifacts.
//
// Implementations return a KeyExists coded error when IfNotExists is set and
// the key is taken, and a StorageUnavailable coded error for backend faults.
// A failed Put must not leave a partial object under the key.
type ObjectStore interface {
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Head(ctx context.Context, key string) (ObjectInfo, error)

	// List returns every object under prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Scheme returns the storage scheme (e.g., "file", "s3", "memory").
	Scheme() string
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
	ContentType  string
	Metadata     map[string]string
}

// PutOptions configures write operations.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
	// If set, the write will fail if the object already exists.
	IfNotExists bool
}
