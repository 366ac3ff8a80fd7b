// Package object provides filesystem and in-memory object stores.
package object

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	tferrors "github.com/transitflow/transitflow/pkg/errors"
	"github.com/transitflow/transitflow/pkg/interfaces"
)

// LocalStorage implements ObjectStore on the local filesystem.
// Keys map to paths below root; "/" in a key becomes a directory.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a new local filesystem storage.
func NewLocalStorage(root string) (*LocalStorage, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}

	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}

	return &LocalStorage{root: absRoot}, nil
}

// Root returns the absolute root directory.
func (s *LocalStorage) Root() string {
	return s.root
}

// Scheme returns "file".
func (s *LocalStorage) Scheme() string {
	return "file"
}

// Put writes data to key. The payload is staged in a temporary file and
// linked into place, so a reader never observes a partial object.
func (s *LocalStorage) Put(ctx context.Context, key string, data io.Reader, opts interfaces.PutOptions) (interfaces.ObjectInfo, error) {
	fullPath, err := s.fullPath(key)
	if err != nil {
		return interfaces.ObjectInfo{}, err
	}
	if err := ctx.Err(); err != nil {
		return interfaces.ObjectInfo{}, tferrors.FromContext(err, "put")
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return interfaces.ObjectInfo{}, tferrors.StorageUnavailable(fmt.Errorf("failed to create directory: %w", err), key)
	}

	if opts.IfNotExists {
		if _, err := os.Stat(fullPath); err == nil {
			return interfaces.ObjectInfo{}, tferrors.KeyExists(key)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".put-*")
	if err != nil {
		return interfaces.ObjectInfo{}, tferrors.StorageUnavailable(fmt.Errorf("failed to create file: %w", err), key)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hash := md5.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), data)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return interfaces.ObjectInfo{}, tferrors.StorageUnavailable(fmt.Errorf("failed to write data: %w", err), key)
	}

	if opts.IfNotExists {
		// link fails atomically when the target exists
		if err := os.Link(tmpPath, fullPath); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return interfaces.ObjectInfo{}, tferrors.KeyExists(key)
			}
			return interfaces.ObjectInfo{}, tferrors.StorageUnavailable(fmt.Errorf("failed to commit file: %w", err), key)
		}
	} else if err := os.Rename(tmpPath, fullPath); err != nil {
		return interfaces.ObjectInfo{}, tferrors.StorageUnavailable(fmt.Errorf("failed to commit file: %w", err), key)
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return interfaces.ObjectInfo{}, tferrors.StorageUnavailable(err, key)
	}
	return interfaces.ObjectInfo{
		Key:          key,
		Size:         size,
		LastModified: info.ModTime(),
		ETag:         hex.EncodeToString(hash.Sum(nil)),
		ContentType:  opts.ContentType,
		Metadata:     opts.Metadata,
	}, nil
}

// Get returns a reader for the object.
func (s *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := s.fullPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, key)
	}
	if err != nil {
		return nil, tferrors.StorageUnavailable(fmt.Errorf("failed to open file: %w", err), key)
	}
	return f, nil
}

// Exists checks if an object exists.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	fullPath, err := s.fullPath(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, tferrors.StorageUnavailable(err, key)
	}
	return true, nil
}

// Head returns object metadata.
func (s *LocalStorage) Head(ctx context.Context, key string) (interfaces.ObjectInfo, error) {
	fullPath, err := s.fullPath(key)
	if err != nil {
		return interfaces.ObjectInfo{}, err
	}
	info, err := os.Stat(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return interfaces.ObjectInfo{}, fmt.Errorf("%w: %s", interfaces.ErrNotFound, key)
	}
	if err != nil {
		return interfaces.ObjectInfo{}, tferrors.StorageUnavailable(err, key)
	}
	return interfaces.ObjectInfo{
		Key:          key,
		Size:         info.Size(),
		LastModified: info.ModTime(),
	}, nil
}

// List lists objects whose key starts with prefix.
func (s *LocalStorage) List(ctx context.Context, prefix string) ([]interfaces.ObjectInfo, error) {
	var results []interfaces.ObjectInfo

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}

		relPath, _ := filepath.Rel(s.root, path)
		key := filepath.ToSlash(relPath)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		results = append(results, interfaces.ObjectInfo{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, tferrors.StorageUnavailable(err, prefix)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Key < results[j].Key
	})
	return results, nil
}

// fullPath maps a key below root and rejects keys escaping it.
func (s *LocalStorage) fullPath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty key")
	}
	full := filepath.Join(s.root, filepath.FromSlash(key))
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes storage root", key)
	}
	return full, nil
}
