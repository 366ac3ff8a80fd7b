package report

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/transitflow/transitflow/internal/model"
	"github.com/transitflow/transitflow/pkg/storage/object"
	"github.com/transitflow/transitflow/pkg/writer"
)

var antonplatz = model.StationRef{Name: "Antonplatz", ID: "900140011", Key: "antonplatz"}

func ptr[T any](v T) *T { return &v }

func record(trip string, delay *int64, cancelled bool) model.NormalizedRecord {
	scheduled := time.Date(2024, 1, 15, 7, 0, 0, 0, time.UTC)
	r := model.NormalizedRecord{
		TripID:        trip,
		Line:          "M13",
		Product:       "tram",
		Direction:     "S Warschauer Str.",
		Station:       antonplatz.Name,
		StationID:     antonplatz.ID,
		Endpoint:      model.Departures,
		ScheduledTime: scheduled,
		Cancelled:     cancelled,
		Remarks:       []string{},
	}
	if delay != nil {
		actual := scheduled.Add(time.Duration(*delay) * time.Second)
		r.ActualTime = &actual
		r.DelaySeconds = delay
		r.Punctual = ptr(*delay <= 60)
	}
	return r
}

func seed(t *testing.T) *object.MemoryStorage {
	t.Helper()
	store := object.NewMemoryStorage()
	w := writer.NewBatchWriter(store, writer.Config{Prefix: "m13", Compression: writer.CompressionSnappy}, nil)
	ctx := context.Background()

	batches := []*model.RunBatch{
		{
			Station:     antonplatz,
			Endpoint:    model.Departures,
			RetrievedAt: time.Date(2024, 1, 15, 6, 55, 0, 0, time.UTC),
			Records: []model.NormalizedRecord{
				record("t1", ptr(int64(90)), false),
				record("t2", ptr(int64(30)), false),
				record("t3", nil, false),
			},
		},
		{
			Station:     antonplatz,
			Endpoint:    model.Departures,
			RetrievedAt: time.Date(2024, 1, 15, 7, 10, 0, 0, time.UTC),
			Records:     []model.NormalizedRecord{record("t4", nil, true)},
		},
		{
			Station:     antonplatz,
			Endpoint:    model.Arrivals,
			RetrievedAt: time.Date(2024, 1, 15, 7, 10, 0, 0, time.UTC),
		},
	}
	for _, b := range batches {
		if _, err := w.Write(ctx, b, w.Key(b)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	return store
}

func TestBuildAggregatesArtifacts(t *testing.T) {
	store := seed(t)

	rep, err := NewBuilder(store, nil).Build(context.Background(), "m13/")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if rep.Files != 3 {
		t.Errorf("files = %d, want 3", rep.Files)
	}
	if len(rep.Rows) != 1 {
		t.Fatalf("expected one group, got %+v", rep.Rows)
	}

	row := rep.Rows[0]
	if row.Station != "Antonplatz" || row.Endpoint != "departures" || row.Line != "M13" {
		t.Errorf("group = %s/%s/%s", row.Station, row.Endpoint, row.Line)
	}
	if row.Records != 4 || row.Realized != 2 || row.Punctual != 1 || row.Cancelled != 1 {
		t.Errorf("counts = %+v", row)
	}
	if !row.AvgDelaySeconds.Valid || row.AvgDelaySeconds.Float64 != 60 {
		t.Errorf("avg delay = %+v", row.AvgDelaySeconds)
	}
	if !row.MaxDelaySeconds.Valid || row.MaxDelaySeconds.Int64 != 90 {
		t.Errorf("max delay = %+v", row.MaxDelaySeconds)
	}
	if row.PunctualityRate() != 0.5 {
		t.Errorf("rate = %v", row.PunctualityRate())
	}
}

func TestBuildWithoutArtifacts(t *testing.T) {
	rep, err := NewBuilder(object.NewMemoryStorage(), nil).Build(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Files != 0 || len(rep.Rows) != 0 {
		t.Errorf("expected empty report, got %+v", rep)
	}
}

func TestAggregateEmptyDir(t *testing.T) {
	rows, err := Aggregate(context.Background(), t.TempDir())
	if err != nil || rows != nil {
		t.Errorf("rows=%v err=%v", rows, err)
	}
}

func TestAggregateQuotedPath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "it's")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := writer.Encode(&model.RunBatch{
		Station:     antonplatz,
		Endpoint:    model.Arrivals,
		RetrievedAt: time.Now(),
		Records:     []model.NormalizedRecord{record("t1", nil, false)},
	}, writer.CompressionNone)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.parquet"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	rows, err := Aggregate(context.Background(), dir)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(rows) != 1 || rows[0].Records != 1 || rows[0].AvgDelaySeconds.Valid {
		t.Errorf("rows = %+v", rows)
	}
}

func TestXLSXRoundTrip(t *testing.T) {
	rep, err := NewBuilder(seed(t), nil).Build(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	rep.Rows = append(rep.Rows, Row{Station: "Antonplatz", Endpoint: "arrivals", Line: "M13", Records: 2})

	var buf bytes.Buffer
	if err := rep.WriteXLSX(&buf); err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}

	rows, err := ReadXLSX(&buf)
	if err != nil {
		t.Fatalf("ReadXLSX: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Records != 4 || math.Abs(rows[0].AvgDelaySeconds.Float64-60) > 1e-9 || rows[0].MaxDelaySeconds.Int64 != 90 {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[1].AvgDelaySeconds.Valid || rows[1].MaxDelaySeconds.Valid || rows[1].Records != 2 {
		t.Errorf("row 1 must keep empty delays: %+v", rows[1])
	}
}
