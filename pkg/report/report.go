// Package report aggregates stored artifacts into per-station punctuality
// figures using DuckDB.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/transitflow/transitflow/pkg/interfaces"
	"github.com/transitflow/transitflow/pkg/logging"
)

// Row holds the figures for one (station, endpoint, line) group.
type Row struct {
	Station  string
	Endpoint string
	Line     string

	Records   int64
	Realized  int64
	Punctual  int64
	Cancelled int64

	// AvgDelaySeconds and MaxDelaySeconds are invalid when no record of the
	// group was realized yet.
	AvgDelaySeconds sql.NullFloat64
	MaxDelaySeconds sql.NullInt64
}

// PunctualityRate returns the share of realized records that were punctual.
func (r Row) PunctualityRate() float64 {
	if r.Realized == 0 {
		return 0
	}
	return float64(r.Punctual) / float64(r.Realized)
}

// Report is the aggregate over a set of artifacts.
type Report struct {
	GeneratedAt time.Time
	Prefix      string
	Files       int
	Rows        []Row
}

// Builder downloads artifacts from a store and aggregates them.
type Builder struct {
	store  interfaces.ObjectStore
	logger *slog.Logger
}

// NewBuilder creates a report builder over store.
func NewBuilder(store interfaces.ObjectStore, logger *slog.Logger) *Builder {
	return &Builder{store: store, logger: logging.OrDiscard(logger)}
}

// Build aggregates every .parquet artifact under prefix. Artifacts are staged
// in a temporary directory so any backend can be reported on.
func (b *Builder) Build(ctx context.Context, prefix string) (*Report, error) {
	objects, err := b.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	rep := &Report{GeneratedAt: time.Now().UTC(), Prefix: prefix}

	var keys []string
	for _, obj := range objects {
		if strings.HasSuffix(obj.Key, ".parquet") {
			keys = append(keys, obj.Key)
		}
	}
	if len(keys) == 0 {
		return rep, nil
	}

	dir, err := os.MkdirTemp("", "transitflow-report-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	defer os.RemoveAll(dir)

	for i, key := range keys {
		if err := b.stage(ctx, key, filepath.Join(dir, fmt.Sprintf("%06d.parquet", i))); err != nil {
			return nil, err
		}
	}
	b.logger.Debug("artifacts staged", "count", len(keys), "dir", dir)

	rows, err := Aggregate(ctx, dir)
	if err != nil {
		return nil, err
	}
	rep.Files = len(keys)
	rep.Rows = rows
	return rep, nil
}

func (b *Builder) stage(ctx context.Context, key, path string) error {
	rc, err := b.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	defer rc.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to stage %s: %w", key, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("failed to stage %s: %w", key, err)
	}
	return f.Close()
}

const aggregateQuery = `
	SELECT
		station,
		endpoint_kind,
		line,
		CAST(COUNT(*) AS BIGINT),
		CAST(COUNT(actual_time) AS BIGINT),
		CAST(COALESCE(SUM(CASE WHEN punctual THEN 1 ELSE 0 END), 0) AS BIGINT),
		CAST(COALESCE(SUM(CASE WHEN cancelled THEN 1 ELSE 0 END), 0) AS BIGINT),
		AVG(delay_seconds),
		MAX(delay_seconds)
	FROM read_parquet('%s', union_by_name = true)
	GROUP BY station, endpoint_kind, line
	ORDER BY station, endpoint_kind, line
`

// Aggregate groups every Parquet file in dir. A directory without Parquet
// files yields no rows.
func Aggregate(ctx context.Context, dir string) ([]Row, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	defer db.Close()

	glob := strings.ReplaceAll(filepath.Join(dir, "*.parquet"), "'", "''")
	rs, err := db.QueryContext(ctx, fmt.Sprintf(aggregateQuery, glob))
	if err != nil {
		return nil, fmt.Errorf("aggregation query failed: %w", err)
	}
	defer rs.Close()

	var rows []Row
	for rs.Next() {
		var r Row
		if err := rs.Scan(
			&r.Station, &r.Endpoint, &r.Line,
			&r.Records, &r.Realized, &r.Punctual, &r.Cancelled,
			&r.AvgDelaySeconds, &r.MaxDelaySeconds,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rows = append(rows, r)
	}
	return rows, rs.Err()
}
