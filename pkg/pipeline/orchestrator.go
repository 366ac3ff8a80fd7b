// Package pipeline runs one collection pass: resolve stations, then fetch,
// normalize and write every (station, endpoint) pair.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/transitflow/transitflow/internal/model"
	"github.com/transitflow/transitflow/pkg/config"
	tferrors "github.com/transitflow/transitflow/pkg/errors"
	"github.com/transitflow/transitflow/pkg/logging"
	"github.com/transitflow/transitflow/pkg/normalize"
	"github.com/transitflow/transitflow/pkg/resilience"
	"github.com/transitflow/transitflow/pkg/resolver"
	"github.com/transitflow/transitflow/pkg/telemetry"
)

// Resolver builds the station table before any pair starts.
type Resolver interface {
	ResolveAll(ctx context.Context, stations []config.StationConfig) (*resolver.Table, error)
}

// Fetcher retrieves one board for a station.
type Fetcher interface {
	Fetch(ctx context.Context, station model.StationRef, kind model.EndpointKind) ([]model.RawEvent, error)
}

// Normalizer converts a board into records.
type Normalizer interface {
	Normalize(events []model.RawEvent, station model.StationRef, kind model.EndpointKind) (normalize.Result, error)
}

// Writer persists a batch under a key. Write makes a single attempt.
type Writer interface {
	Key(batch *model.RunBatch) string
	Write(ctx context.Context, batch *model.RunBatch, key string) (model.StoredArtifact, error)
}

// Config holds orchestrator configuration.
type Config struct {
	Stations  []config.StationConfig
	Endpoints []model.EndpointKind

	// Concurrency bounds the number of pairs in flight.
	Concurrency int

	// Timeout bounds the whole run (0 = only the caller's context).
	Timeout time.Duration

	// Retry wraps every fetch and every storage write.
	Retry resilience.Policy
}

// ConfigFrom derives orchestrator settings from the loaded configuration.
func ConfigFrom(c *config.Config) (Config, error) {
	kinds, err := c.EndpointKinds()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Stations:    c.Stations,
		Endpoints:   kinds,
		Concurrency: c.Run.Concurrency,
		Timeout:     c.Run.Timeout,
		Retry:       resilience.FromConfig(c.Retry),
	}, nil
}

// Orchestrator sequences the pipeline stages for every pair of a run.
type Orchestrator struct {
	cfg        Config
	resolver   Resolver
	fetcher    Fetcher
	normalizer Normalizer
	writer     Writer

	logger   *slog.Logger
	clock    func() time.Time
	newRunID func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = now }
}

// WithRunID replaces the UUID run id generator.
func WithRunID(gen func() string) Option {
	return func(o *Orchestrator) { o.newRunID = gen }
}

// NewOrchestrator creates an orchestrator from its stages.
func NewOrchestrator(cfg Config, r Resolver, f Fetcher, n Normalizer, w Writer, opts ...Option) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	o := &Orchestrator{
		cfg:        cfg,
		resolver:   r,
		fetcher:    f,
		normalizer: n,
		writer:     w,
		clock:      time.Now,
		newRunID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.OrDiscard(o.logger)
	return o
}

// Run executes one collection pass. Pair failures are recorded on the result
// and never abort siblings; the returned error is non-nil only when the run
// aborted before any pair started.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	startedAt := o.clock().UTC()
	res := &RunResult{RunID: o.newRunID(), StartedAt: startedAt}
	logger := o.logger.With("run_id", res.RunID)

	ctx, span := telemetry.Tracer().Start(ctx, "transitflow.run",
		trace.WithAttributes(attribute.String("transitflow.run_id", res.RunID)))
	defer span.End()

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	logger.Info("run started",
		"stations", len(o.cfg.Stations),
		"endpoints", len(o.cfg.Endpoints),
		"concurrency", o.cfg.Concurrency)

	table, err := o.resolver.ResolveAll(ctx, o.cfg.Stations)
	if err != nil {
		res.Err = err
		res.Status = StatusFailure
		res.Duration = o.clock().Sub(startedAt)
		telemetry.RecordError(span, err)
		logger.Error("station resolution failed, aborting run", "reason", tferrors.Reason(err), "error", err)
		return res, err
	}

	retrievedAt := startedAt.Truncate(time.Second)
	for _, station := range table.Stations() {
		for _, kind := range o.cfg.Endpoints {
			res.Pairs = append(res.Pairs, newPairResult(station, kind))
		}
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for _, pair := range res.Pairs {
		g.Go(func() error {
			o.runPair(ctx, res.RunID, retrievedAt, pair, logger)
			return nil
		})
	}
	_ = g.Wait()

	res.Status = ComputeStatus(res.Pairs)
	res.Duration = o.clock().Sub(startedAt)

	span.SetAttributes(
		attribute.String("transitflow.status", string(res.Status)),
		attribute.Int("transitflow.pairs", len(res.Pairs)),
		attribute.Int("transitflow.failed", len(res.Failed())),
	)
	logger.Info("run finished",
		"status", res.Status,
		"succeeded", len(res.Succeeded()),
		"failed", len(res.Failed()),
		"skipped_records", res.Skipped(),
		"duration", res.Duration)

	return res, nil
}

func (o *Orchestrator) runPair(ctx context.Context, runID string, retrievedAt time.Time, p *PairResult, logger *slog.Logger) {
	start := o.clock()
	logger = logger.With("station", p.Station.Key, "endpoint", p.Endpoint.String())

	ctx, span := telemetry.Tracer().Start(ctx, "transitflow.pair", trace.WithAttributes(
		attribute.String("transitflow.station", p.Station.Key),
		attribute.String("transitflow.station_id", p.Station.ID),
		attribute.String("transitflow.endpoint", p.Endpoint.String()),
	))
	defer span.End()
	defer func() { p.Duration = o.clock().Sub(start) }()

	fail := func(err error) {
		// a deadline that interrupted a retryable call still reads as timeout
		if cerr := ctx.Err(); cerr != nil && !interrupted(err) {
			err = tferrors.FromContext(cerr, string(p.State)).WithContext("last_error", err.Error())
		}
		from := p.State
		p.Err = err
		p.Reason = tferrors.Reason(err)
		_ = p.advance(StateFailed, o.clock())
		telemetry.RecordError(span, err)
		logger.Warn("pair failed", "state", from, "reason", p.Reason, "error", err)
	}

	step := func(to State) bool {
		if err := ctx.Err(); err != nil {
			fail(tferrors.FromContext(err, string(to)))
			return false
		}
		_ = p.advance(to, o.clock())
		return true
	}

	if !step(StateFetching) {
		return
	}
	var events []model.RawEvent
	attempts, err := o.cfg.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		var err error
		events, err = o.fetcher.Fetch(ctx, p.Station, p.Endpoint)
		return err
	}, retryNotify(logger, "fetch"))
	p.FetchAttempts = attempts
	if err != nil {
		fail(err)
		return
	}
	p.Fetched = len(events)

	if !step(StateNormalizing) {
		return
	}
	norm, err := o.normalizer.Normalize(events, p.Station, p.Endpoint)
	p.Filtered, p.Skipped = norm.Filtered, norm.Skipped
	if err != nil {
		fail(err)
		return
	}
	p.Records = len(norm.Records)
	if norm.Skipped > 0 {
		logger.Info("malformed records skipped", "skipped", norm.Skipped, "reasons", norm.SkipReasons)
	}

	if !step(StateWriting) {
		return
	}
	batch := &model.RunBatch{
		RunID:       runID,
		Station:     p.Station,
		Endpoint:    p.Endpoint,
		RetrievedAt: retrievedAt,
		Records:     norm.Records,
	}
	key := o.writer.Key(batch)
	var artifact model.StoredArtifact
	attempts, err = o.cfg.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		var err error
		artifact, err = o.writer.Write(ctx, batch, key)
		return err
	}, retryNotify(logger, "write"))
	p.WriteAttempts = attempts
	if err != nil {
		fail(err)
		return
	}
	p.Artifact = &artifact
	_ = p.advance(StateDone, o.clock())

	span.SetAttributes(
		attribute.String("transitflow.key", key),
		attribute.Int("transitflow.records", p.Records),
	)
	logger.Info("pair stored",
		"key", key,
		"records", p.Records,
		"filtered", p.Filtered,
		"skipped", p.Skipped,
		"fetch_attempts", p.FetchAttempts,
		"write_attempts", p.WriteAttempts)
}

func retryNotify(logger *slog.Logger, stage string) resilience.Notify {
	return func(attempt int, err error, wait time.Duration) {
		logger.Warn("retrying",
			"stage", stage,
			"attempt", attempt,
			"wait", wait,
			"reason", tferrors.Reason(err),
			"error", err)
	}
}

func interrupted(err error) bool {
	return tferrors.IsCode(err, tferrors.CodeTimeout) || tferrors.IsCode(err, tferrors.CodeCanceled)
}
