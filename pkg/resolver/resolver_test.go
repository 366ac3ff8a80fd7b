package resolver

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/transitflow/transitflow/internal/model"
	"github.com/transitflow/transitflow/pkg/config"
	tferrors "github.com/transitflow/transitflow/pkg/errors"
	"github.com/transitflow/transitflow/pkg/resilience"
)

type fakeLookup struct {
	mu      sync.Mutex
	results map[string][]model.Location
	errs    []error
	calls   map[string]int
}

func newFakeLookup(results map[string][]model.Location) *fakeLookup {
	return &fakeLookup{results: results, calls: map[string]int{}}
}

func (f *fakeLookup) Locations(ctx context.Context, query string) ([]model.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[query]++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.results[query], nil
}

type mapCache struct {
	data   map[string]string
	getErr error
}

func (c *mapCache) Get(ctx context.Context, name string) (string, bool, error) {
	if c.getErr != nil {
		return "", false, c.getErr
	}
	id, ok := c.data[name]
	return id, ok, nil
}

func (c *mapCache) Set(ctx context.Context, name, id string) error {
	c.data[name] = id
	return nil
}

func fastRetry() resilience.Policy {
	return resilience.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1, MaxElapsed: time.Second}
}

func TestChoose(t *testing.T) {
	anton := model.Location{Type: "stop", ID: "900140011", Name: "Antonplatz"}
	antonStr := model.Location{Type: "stop", ID: "900140099", Name: "Antonplatz/Berliner Allee"}
	addr := model.Location{Type: "location", Name: "Antonplatz 1"}

	tests := []struct {
		name      string
		query     string
		locations []model.Location
		wantID    string
		wantCode  tferrors.Code
	}{
		{"single stop", "Antonplatz", []model.Location{anton}, "900140011", ""},
		{"addresses ignored", "Antonplatz", []model.Location{addr, anton}, "900140011", ""},
		{"exact match wins", "antonplatz ", []model.Location{antonStr, anton}, "900140011", ""},
		{"lone fuzzy candidate", "Anton", []model.Location{antonStr}, "900140099", ""},
		{"duplicate ids collapse", "Anton", []model.Location{anton, anton}, "900140011", ""},
		{"nothing", "Nowhere", nil, "", tferrors.CodeStationUnknown},
		{"only addresses", "Antonplatz 1", []model.Location{addr}, "", tferrors.CodeStationUnknown},
		{"ambiguous", "Anton", []model.Location{anton, antonStr}, "", tferrors.CodeStationAmbiguous},
		{"ambiguous exact", "Antonplatz", []model.Location{anton, {Type: "station", ID: "de:11000:900140011", Name: "Antonplatz"}}, "", tferrors.CodeStationAmbiguous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := Choose(tt.query, tt.locations)
			if tt.wantCode != "" {
				if !tferrors.IsCode(err, tt.wantCode) {
					t.Fatalf("expected %s, got %v", tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if loc.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", loc.ID, tt.wantID)
			}
		})
	}
}

func TestResolvePinnedIDSkipsLookup(t *testing.T) {
	lookup := newFakeLookup(nil)
	r := New(lookup)

	ref, err := r.Resolve(context.Background(), config.StationConfig{Name: "Antonplatz", ID: "900140011"})
	if err != nil {
		t.Fatal(err)
	}
	if ref.ID != "900140011" || ref.Key != "antonplatz" {
		t.Errorf("unexpected ref: %+v", ref)
	}
	if len(lookup.calls) != 0 {
		t.Errorf("pinned station must not be looked up: %v", lookup.calls)
	}
}

func TestResolveLooksUpOnce(t *testing.T) {
	lookup := newFakeLookup(map[string][]model.Location{
		"Antonplatz": {{Type: "stop", ID: "900140011", Name: "Antonplatz"}},
	})
	r := New(lookup)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ref, err := r.Resolve(ctx, config.StationConfig{Name: "Antonplatz"})
		if err != nil {
			t.Fatal(err)
		}
		if ref.ID != "900140011" {
			t.Errorf("unexpected ID %q", ref.ID)
		}
	}
	if lookup.calls["Antonplatz"] != 1 {
		t.Errorf("expected one lookup, got %d", lookup.calls["Antonplatz"])
	}
}

func TestResolveRetriesTransientLookup(t *testing.T) {
	lookup := newFakeLookup(map[string][]model.Location{
		"Antonplatz": {{Type: "stop", ID: "900140011", Name: "Antonplatz"}},
	})
	lookup.errs = []error{tferrors.TransientFetch(errors.New("503"), "u")}

	r := New(lookup, WithRetry(fastRetry()))
	ref, err := r.Resolve(context.Background(), config.StationConfig{Name: "Antonplatz"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.ID != "900140011" || lookup.calls["Antonplatz"] != 2 {
		t.Errorf("ref=%+v calls=%d", ref, lookup.calls["Antonplatz"])
	}
}

func TestResolveFatalLookupFails(t *testing.T) {
	lookup := newFakeLookup(nil)
	lookup.errs = []error{tferrors.FatalFetch(errors.New("400"), "u")}

	r := New(lookup, WithRetry(fastRetry()))
	_, err := r.Resolve(context.Background(), config.StationConfig{Name: "Antonplatz"})
	if !tferrors.IsCode(err, tferrors.CodeFetchFatal) {
		t.Fatalf("expected fatal fetch error, got %v", err)
	}
	if lookup.calls["Antonplatz"] != 1 {
		t.Errorf("fatal errors must not be retried, got %d calls", lookup.calls["Antonplatz"])
	}
}

func TestResolveUsesCache(t *testing.T) {
	lookup := newFakeLookup(map[string][]model.Location{
		"Antonplatz": {{Type: "stop", ID: "900140011", Name: "Antonplatz"}},
	})
	cache := &mapCache{data: map[string]string{"Warschauer Str.": "900120004"}}
	r := New(lookup, WithCache(cache))
	ctx := context.Background()

	ref, err := r.Resolve(ctx, config.StationConfig{Name: "Warschauer Str."})
	if err != nil || ref.ID != "900120004" {
		t.Fatalf("cache hit: %+v, %v", ref, err)
	}
	if lookup.calls["Warschauer Str."] != 0 {
		t.Error("cache hit must not call upstream")
	}

	if _, err := r.Resolve(ctx, config.StationConfig{Name: "Antonplatz"}); err != nil {
		t.Fatal(err)
	}
	if cache.data["Antonplatz"] != "900140011" {
		t.Error("resolved ID should be written to the cache")
	}
}

func TestResolveCacheErrorFallsThrough(t *testing.T) {
	lookup := newFakeLookup(map[string][]model.Location{
		"Antonplatz": {{Type: "stop", ID: "900140011", Name: "Antonplatz"}},
	})
	cache := &mapCache{data: map[string]string{}, getErr: errors.New("connection refused")}
	r := New(lookup, WithCache(cache))

	ref, err := r.Resolve(context.Background(), config.StationConfig{Name: "Antonplatz"})
	if err != nil || ref.ID != "900140011" {
		t.Fatalf("expected upstream fallback, got %+v, %v", ref, err)
	}
}

func TestResolveAll(t *testing.T) {
	lookup := newFakeLookup(map[string][]model.Location{
		"Antonplatz": {{Type: "stop", ID: "900140011", Name: "Antonplatz"}},
	})
	r := New(lookup)

	table, err := r.ResolveAll(context.Background(), []config.StationConfig{
		{Name: "S+U Schönhauser Allee/Bornholmer Str.", ID: "900110007"},
		{Name: "Antonplatz"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if table.Len() != 2 {
		t.Fatalf("expected 2 stations, got %d", table.Len())
	}
	stations := table.Stations()
	if stations[0].Key != "s_u_schonhauser_allee_bornholmer_str" || stations[1].ID != "900140011" {
		t.Errorf("unexpected table: %+v", stations)
	}
	if ref, ok := table.Get("Antonplatz"); !ok || ref.ID != "900140011" {
		t.Errorf("Get(Antonplatz) = %+v, %v", ref, ok)
	}

	// the table hands out copies
	stations[0].ID = "mutated"
	if table.Stations()[0].ID != "900110007" {
		t.Error("table must be read-only")
	}
}

func TestResolveAllStopsOnUnknown(t *testing.T) {
	r := New(newFakeLookup(nil))
	_, err := r.ResolveAll(context.Background(), []config.StationConfig{{Name: "Nowhere"}})
	if !tferrors.IsResolution(err) {
		t.Fatalf("expected resolution error, got %v", err)
	}
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	cfg := DefaultRedisConfig(addr)
	cfg.Prefix = "transitflow:test:" + time.Now().Format("150405.000") + ":"
	cfg.TTL = time.Minute

	cache, err := NewRedisCache(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewRedisCache: %v", err)
	}
	defer cache.Close()

	ctx := context.Background()
	if _, ok, err := cache.Get(ctx, "Antonplatz"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := cache.Set(ctx, "Antonplatz", "900140011"); err != nil {
		t.Fatal(err)
	}
	id, ok, err := cache.Get(ctx, "  antonplatz ")
	if err != nil || !ok || id != "900140011" {
		t.Errorf("Get = %q, %v, %v", id, ok, err)
	}
}

func TestSanitizeKey(t *testing.T) {
	if got := sanitizeKey(" S+U Schönhauser Allee/Bornholmer Str. "); got != "s+u_schönhauser_allee_bornholmer_str." {
		t.Errorf("sanitizeKey = %q", got)
	}
}
