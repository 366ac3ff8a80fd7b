// Package writer persists run batches as write-once Parquet artifacts.
package writer

import (
	"bytes"
	"context"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/transitflow/transitflow/internal/model"
	tferrors "github.com/transitflow/transitflow/pkg/errors"
	"github.com/transitflow/transitflow/pkg/interfaces"
	"github.com/transitflow/transitflow/pkg/logging"
)

// ContentType is attached to every uploaded artifact.
const ContentType = "application/vnd.apache.parquet"

// Config holds writer configuration.
type Config struct {
	// Prefix is prepended to every artifact key (may be empty).
	Prefix string

	// Compression type for Parquet output.
	Compression CompressionType
}

// CompressionType represents Parquet compression options.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionGzip
	CompressionZstd
	CompressionLZ4
)

// String returns the compression type name.
func (c CompressionType) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "none"
	}
}

// ParseCompression parses a compression type string.
func ParseCompression(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "gzip":
		return CompressionGzip
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// ArtifactKey builds "[prefix/]station_key/endpoint/RFC3339.parquet" with the
// retrieval time in UTC at second precision.
func ArtifactKey(prefix string, station model.StationRef, kind model.EndpointKind, retrievedAt time.Time) string {
	name := retrievedAt.UTC().Truncate(time.Second).Format(time.RFC3339) + ".parquet"
	key := path.Join(station.Key, kind.String(), name)
	if p := strings.Trim(prefix, "/"); p != "" {
		key = p + "/" + key
	}
	return key
}

// BatchWriter encodes batches and stores them with if-not-exists semantics.
type BatchWriter struct {
	store  interfaces.ObjectStore
	cfg    Config
	logger *slog.Logger
}

// NewBatchWriter creates a writer on store.
func NewBatchWriter(store interfaces.ObjectStore, cfg Config, logger *slog.Logger) *BatchWriter {
	return &BatchWriter{
		store:  store,
		cfg:    cfg,
		logger: logging.OrDiscard(logger),
	}
}

// Key returns the artifact key for batch under this writer's prefix.
func (w *BatchWriter) Key(batch *model.RunBatch) string {
	return ArtifactKey(w.cfg.Prefix, batch.Station, batch.Endpoint, batch.RetrievedAt)
}

// Write encodes batch and stores it under key. It makes one storage attempt;
// an existing key yields CodeKeyExists and leaves the stored bytes untouched,
// a backend fault yields the retryable CodeStorageUnavailable.
func (w *BatchWriter) Write(ctx context.Context, batch *model.RunBatch, key string) (model.StoredArtifact, error) {
	exists, err := w.store.Exists(ctx, key)
	if err != nil {
		return model.StoredArtifact{}, storageErr(err, key)
	}
	if exists {
		return model.StoredArtifact{}, tferrors.KeyExists(key)
	}

	data, err := Encode(batch, w.cfg.Compression)
	if err != nil {
		return model.StoredArtifact{}, err
	}

	meta := map[string]string{
		"records":  strconv.Itoa(batch.Len()),
		"station":  batch.Station.Key,
		"endpoint": batch.Endpoint.String(),
	}
	if batch.RunID != "" {
		meta["run-id"] = batch.RunID
	}

	info, err := w.store.Put(ctx, key, bytes.NewReader(data), interfaces.PutOptions{
		ContentType: ContentType,
		Metadata:    meta,
		IfNotExists: true,
	})
	if err != nil {
		return model.StoredArtifact{}, storageErr(err, key)
	}

	w.logger.Debug("artifact stored",
		"key", key,
		"records", batch.Len(),
		"bytes", len(data),
		"backend", w.store.Scheme())

	return model.StoredArtifact{
		Key:     key,
		Records: batch.Len(),
		Bytes:   int64(len(data)),
		ETag:    info.ETag,
	}, nil
}

func storageErr(err error, key string) error {
	if tferrors.GetCode(err) == tferrors.CodeUnknown {
		return tferrors.StorageUnavailable(err, key)
	}
	return err
}
