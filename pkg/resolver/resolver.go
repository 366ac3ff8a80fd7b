// Package resolver maps configured station names to upstream stop IDs.
//
// Resolution happens once per run, before any fetch starts. The result is a
// read-only Table shared by every pair task.
package resolver

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/transitflow/transitflow/internal/model"
	"github.com/transitflow/transitflow/pkg/config"
	tferrors "github.com/transitflow/transitflow/pkg/errors"
	"github.com/transitflow/transitflow/pkg/logging"
	"github.com/transitflow/transitflow/pkg/resilience"
)

// Lookup searches upstream locations by name.
type Lookup interface {
	Locations(ctx context.Context, query string) ([]model.Location, error)
}

// Cache remembers resolved IDs across runs. A miss returns ok=false.
type Cache interface {
	Get(ctx context.Context, name string) (id string, ok bool, err error)
	Set(ctx context.Context, name, id string) error
}

// Resolver resolves station names. It is safe for concurrent use; each name
// is looked up at most once per Resolver.
type Resolver struct {
	lookup Lookup
	cache  Cache
	policy resilience.Policy
	logger *slog.Logger

	mu   sync.Mutex
	memo map[string]model.StationRef
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache adds a persistent lookup cache.
func WithCache(c Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithRetry sets the retry policy for upstream lookups.
func WithRetry(p resilience.Policy) Option {
	return func(r *Resolver) { r.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a Resolver backed by lookup.
func New(lookup Lookup, opts ...Option) *Resolver {
	r := &Resolver{
		lookup: lookup,
		policy: resilience.DefaultPolicy(),
		memo:   make(map[string]model.StationRef),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDiscard(r.logger)
	return r
}

// Resolve returns the StationRef for a configured station. A pinned ID skips
// the upstream lookup entirely.
func (r *Resolver) Resolve(ctx context.Context, st config.StationConfig) (model.StationRef, error) {
	name := strings.TrimSpace(st.Name)
	key := st.StorageKey()

	if st.ID != "" {
		return model.StationRef{Name: name, ID: st.ID, Key: key}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ref, ok := r.memo[name]; ok {
		ref.Key = key
		return ref, nil
	}

	if id, ok := r.cached(ctx, name); ok {
		ref := model.StationRef{Name: name, ID: id, Key: key}
		r.memo[name] = ref
		return ref, nil
	}

	var candidates []model.Location
	attempts, err := r.policy.Do(ctx, func(ctx context.Context, _ int) error {
		var lerr error
		candidates, lerr = r.lookup.Locations(ctx, name)
		return lerr
	}, func(attempt int, err error, wait time.Duration) {
		r.logger.Warn("station lookup failed, retrying",
			"station", name, "attempt", attempt, "wait", wait, "error", err)
	})
	if err != nil {
		return model.StationRef{}, tferrors.Wrap(err, tferrors.GetCode(err), "station lookup failed").
			WithContext("station", name).
			WithContext("attempts", attempts)
	}

	loc, err := Choose(name, candidates)
	if err != nil {
		return model.StationRef{}, err
	}

	ref := model.StationRef{Name: name, ID: loc.ID, Key: key}
	r.memo[name] = ref
	r.store(ctx, name, loc.ID)

	r.logger.Debug("station resolved", "station", name, "id", loc.ID, "upstream_name", loc.Name)
	return ref, nil
}

func (r *Resolver) cached(ctx context.Context, name string) (string, bool) {
	if r.cache == nil {
		return "", false
	}
	id, ok, err := r.cache.Get(ctx, name)
	if err != nil {
		r.logger.Warn("station cache read failed", "station", name, "error", err)
		return "", false
	}
	return id, ok && id != ""
}

func (r *Resolver) store(ctx context.Context, name, id string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, name, id); err != nil {
		r.logger.Warn("station cache write failed", "station", name, "error", err)
	}
}

// ResolveAll resolves every station in order and returns the first failure.
func (r *Resolver) ResolveAll(ctx context.Context, stations []config.StationConfig) (*Table, error) {
	refs := make([]model.StationRef, 0, len(stations))
	for _, st := range stations {
		ref, err := r.Resolve(ctx, st)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return NewTable(refs), nil
}

// Choose picks the one location a name refers to.
//
// Only stops and stations with an ID are candidates. A unique candidate whose
// name equals the query (ignoring case and surrounding space) wins; failing
// that, a lone candidate wins. No candidate is StationUnknown, several are
// StationAmbiguous.
func Choose(name string, locations []model.Location) (model.Location, error) {
	var candidates []model.Location
	seen := make(map[string]bool)
	for _, loc := range locations {
		if !loc.IsStop() || loc.ID == "" || seen[loc.ID] {
			continue
		}
		seen[loc.ID] = true
		candidates = append(candidates, loc)
	}

	switch len(candidates) {
	case 0:
		return model.Location{}, tferrors.StationUnknown(name)
	case 1:
		return candidates[0], nil
	}

	want := normalizeName(name)
	var exact []model.Location
	for _, c := range candidates {
		if normalizeName(c.Name) == want {
			exact = append(exact, c)
		}
	}
	if len(exact) == 1 {
		return exact[0], nil
	}

	pool := candidates
	if len(exact) > 1 {
		pool = exact
	}
	ids := make([]string, 0, len(pool))
	for _, c := range pool {
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)
	return model.Location{}, tferrors.StationAmbiguous(name, ids)
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Table is an immutable name to StationRef mapping built before a run starts.
type Table struct {
	refs   []model.StationRef
	byName map[string]model.StationRef
}

// NewTable builds a table from refs, keeping their order.
func NewTable(refs []model.StationRef) *Table {
	t := &Table{
		refs:   append([]model.StationRef(nil), refs...),
		byName: make(map[string]model.StationRef, len(refs)),
	}
	for _, ref := range refs {
		t.byName[ref.Name] = ref
	}
	return t
}

// Get returns the ref for a configured name.
func (t *Table) Get(name string) (model.StationRef, bool) {
	ref, ok := t.byName[strings.TrimSpace(name)]
	return ref, ok
}

// Stations returns a copy of all refs in configuration order.
func (t *Table) Stations() []model.StationRef {
	return append([]model.StationRef(nil), t.refs...)
}

// Len returns the number of resolved stations.
func (t *Table) Len() int {
	return len(t.refs)
}
