// Package storage opens the configured artifact object store.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/transitflow/transitflow/pkg/config"
	"github.com/transitflow/transitflow/pkg/interfaces"
	"github.com/transitflow/transitflow/pkg/storage/object"
	"github.com/transitflow/transitflow/pkg/storage/s3"
)

// Open returns the object store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (interfaces.ObjectStore, error) {
	switch cfg.Backend {
	case "s3":
		s3cfg := s3.DefaultConfig(cfg.S3.Bucket, cfg.S3.Region)
		s3cfg.Endpoint = cfg.S3.Endpoint
		s3cfg.UsePathStyle = cfg.S3.UsePathStyle
		if cfg.S3.Timeout > 0 {
			s3cfg.OperationTimeout = cfg.S3.Timeout
		}
		return s3.NewClient(ctx, s3cfg)
	case "local":
		return object.NewLocalStorage(ExpandHome(cfg.Local.Root))
	case "memory":
		return object.NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
