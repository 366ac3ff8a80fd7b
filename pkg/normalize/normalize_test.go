package normalize

import (
	"reflect"
	"testing"
	"time"

	"github.com/transitflow/transitflow/internal/model"
	"github.com/transitflow/transitflow/pkg/config"
	tferrors "github.com/transitflow/transitflow/pkg/errors"
)

var antonplatz = model.StationRef{Name: "Antonplatz", ID: "900140011", Key: "antonplatz"}

func str(s string) *string { return &s }
func i64(v int64) *int64   { return &v }

func event(trip, line, planned string, actual *string) model.RawEvent {
	return model.RawEvent{
		TripID:      trip,
		Line:        &model.Line{Name: line, Product: "tram"},
		Direction:   str("S Warschauer Straße"),
		PlannedWhen: str(planned),
		When:        actual,
	}
}

func defaultNormalizer() *Normalizer {
	return New(Options{Line: "M13", Threshold: 60 * time.Second})
}

func TestFilterKeepsOrder(t *testing.T) {
	events := []model.RawEvent{
		event("a", "M13", "2024-01-15T08:00:00+01:00", nil),
		event("b", "M13", "2024-01-15T08:05:00+01:00", nil),
		event("c", "12", "2024-01-15T08:02:00+01:00", nil),
	}

	res, err := defaultNormalizer().Normalize(events, antonplatz, model.Departures)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 2 || res.Records[0].TripID != "a" || res.Records[1].TripID != "b" {
		t.Fatalf("unexpected records: %+v", res.Records)
	}
	if res.Filtered != 1 || res.Skipped != 0 {
		t.Errorf("filtered=%d skipped=%d", res.Filtered, res.Skipped)
	}
}

func TestDelayAndPunctuality(t *testing.T) {
	tests := []struct {
		name     string
		actual   string
		delay    int64
		punctual bool
	}{
		{"late", "2024-01-15T08:01:30+01:00", 90, false},
		{"on threshold", "2024-01-15T08:01:00+01:00", 60, true},
		{"one over", "2024-01-15T08:01:01+01:00", 61, false},
		{"early", "2024-01-15T07:59:30+01:00", -30, true},
		{"on time", "2024-01-15T08:00:00+01:00", 0, true},
		{"other offset", "2024-01-15T07:01:30Z", 90, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := []model.RawEvent{event("t", "M13", "2024-01-15T08:00:00+01:00", str(tt.actual))}
			res, err := defaultNormalizer().Normalize(events, antonplatz, model.Departures)
			if err != nil {
				t.Fatal(err)
			}
			rec := res.Records[0]
			if rec.DelaySeconds == nil || *rec.DelaySeconds != tt.delay {
				t.Errorf("delay = %v, want %d", rec.DelaySeconds, tt.delay)
			}
			if rec.Punctual == nil || *rec.Punctual != tt.punctual {
				t.Errorf("punctual = %v, want %v", rec.Punctual, tt.punctual)
			}
			if rec.ActualTime.Sub(rec.ScheduledTime) != time.Duration(tt.delay)*time.Second {
				t.Error("delay must equal actual - scheduled")
			}
		})
	}
}

func TestPendingHasNoVerdict(t *testing.T) {
	events := []model.RawEvent{event("t", "M13", "2024-01-15T08:00:00+01:00", nil)}
	res, err := defaultNormalizer().Normalize(events, antonplatz, model.Departures)
	if err != nil {
		t.Fatal(err)
	}
	rec := res.Records[0]
	if !rec.Pending() || rec.DelaySeconds != nil || rec.Punctual != nil {
		t.Errorf("pending record must carry no verdict: %+v", rec)
	}
}

func TestCancelledHasNoVerdict(t *testing.T) {
	ev := event("t", "M13", "2024-01-15T08:00:00+01:00", str("2024-01-15T08:00:00+01:00"))
	ev.Cancelled = true

	res, err := defaultNormalizer().Normalize([]model.RawEvent{ev}, antonplatz, model.Departures)
	if err != nil {
		t.Fatal(err)
	}
	rec := res.Records[0]
	if !rec.Cancelled || rec.ActualTime != nil || rec.Punctual != nil {
		t.Errorf("cancelled record must be pending: %+v", rec)
	}
}

func TestSkips(t *testing.T) {
	missingPlanned := event("p", "M13", "", nil)
	missingPlanned.PlannedWhen = nil

	events := []model.RawEvent{
		event("", "M13", "2024-01-15T08:00:00+01:00", nil),
		missingPlanned,
		event("q", "M13", "yesterday", nil),
		event("r", "M13", "2024-01-15T08:00:00+01:00", str("soon")),
		event("ok", "M13", "2024-01-15T08:00:00+01:00", nil),
		event("", "12", "2024-01-15T08:00:00+01:00", nil),
	}

	res, err := defaultNormalizer().Normalize(events, antonplatz, model.Departures)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 1 || res.Records[0].TripID != "ok" {
		t.Fatalf("unexpected records: %+v", res.Records)
	}
	want := map[string]int{
		SkipMissingTripID:      1,
		SkipMissingPlannedTime: 1,
		SkipBadPlannedTime:     1,
		SkipBadActualTime:      1,
	}
	if res.Skipped != 4 || !reflect.DeepEqual(res.SkipReasons, want) {
		t.Errorf("skipped=%d reasons=%v", res.Skipped, res.SkipReasons)
	}
	if res.Filtered != 1 {
		t.Errorf("other-line record should be filtered, not skipped: %d", res.Filtered)
	}
}

func TestMaxSkippedExhaustion(t *testing.T) {
	n := New(Options{Line: "M13", Threshold: time.Minute, MaxSkipped: 1})
	events := []model.RawEvent{
		event("", "M13", "2024-01-15T08:00:00+01:00", nil),
		event("", "M13", "2024-01-15T08:00:00+01:00", nil),
	}

	_, err := n.Normalize(events, antonplatz, model.Departures)
	if !tferrors.IsCode(err, tferrors.CodeNormalizeExhausted) {
		t.Fatalf("expected NormalizeExhausted, got %v", err)
	}

	if _, err := n.Normalize(events[:1], antonplatz, model.Departures); err != nil {
		t.Errorf("one skip is within bound: %v", err)
	}
}

func TestMatchPolicy(t *testing.T) {
	events := []model.RawEvent{
		event("a", "M13", "2024-01-15T08:00:00+01:00", nil),
		event("b", "m13", "2024-01-15T08:00:00+01:00", nil),
	}

	exact, _ := New(Options{Line: "M13"}).Normalize(events, antonplatz, model.Departures)
	if len(exact.Records) != 1 || exact.Records[0].TripID != "a" {
		t.Errorf("exact policy: %+v", exact.Records)
	}

	fold, _ := New(Options{Line: "M13", Match: MatchFold}).Normalize(events, antonplatz, model.Departures)
	if len(fold.Records) != 2 {
		t.Errorf("fold policy: %+v", fold.Records)
	}
}

func TestNormalizeIsIdempotentOnFilteredSet(t *testing.T) {
	events := []model.RawEvent{
		event("a", "M13", "2024-01-15T08:00:00+01:00", str("2024-01-15T08:00:30+01:00")),
		event("b", "12", "2024-01-15T08:00:00+01:00", nil),
		event("c", "M13", "2024-01-15T08:10:00+01:00", nil),
	}
	n := defaultNormalizer()

	first, _ := n.Normalize(events, antonplatz, model.Departures)

	var kept []model.RawEvent
	for _, ev := range events {
		if n.Matches(ev.LineName()) {
			kept = append(kept, ev)
		}
	}
	second, _ := n.Normalize(kept, antonplatz, model.Departures)

	if !reflect.DeepEqual(first.Records, second.Records) {
		t.Errorf("normalizing the filtered set changed the output:\n%+v\n%+v", first.Records, second.Records)
	}
}

func TestRemarks(t *testing.T) {
	ev := event("t", "M13", "2024-01-15T08:00:00+01:00", nil)
	ev.Remarks = []model.Remark{
		{Type: "warning", Text: str("Construction works")},
		{Type: "hint", Text: str("barrier-free")},
		{Type: "warning", Text: str("Construction works")},
		{Type: "hint", Text: str("")},
		{Type: "hint"},
		{Type: "status", Text: str("construction works")},
	}

	res, _ := defaultNormalizer().Normalize([]model.RawEvent{ev}, antonplatz, model.Departures)
	want := []string{"Construction works", "barrier-free", "construction works"}
	if !reflect.DeepEqual(res.Records[0].Remarks, want) {
		t.Errorf("remarks = %q, want %q", res.Records[0].Remarks, want)
	}

	noRemarks, _ := defaultNormalizer().Normalize([]model.RawEvent{event("u", "M13", "2024-01-15T08:00:00+01:00", nil)}, antonplatz, model.Departures)
	if noRemarks.Records[0].Remarks == nil {
		t.Error("remarks should be an empty list, not nil")
	}
}

func TestDirections(t *testing.T) {
	toWarschauer := event("a", "M13", "2024-01-15T08:00:00+01:00", nil)
	toWedding := event("b", "M13", "2024-01-15T08:00:00+01:00", nil)
	toWedding.Direction = str("Wedding, Virchow-Klinikum")

	n := New(Options{Line: "M13", Directions: []string{"S Warschauer Straße"}})

	deps, _ := n.Normalize([]model.RawEvent{toWarschauer, toWedding}, antonplatz, model.Departures)
	if len(deps.Records) != 1 || deps.Records[0].TripID != "a" || deps.Filtered != 1 {
		t.Errorf("departures should be filtered by direction: %+v", deps)
	}

	arrs, _ := n.Normalize([]model.RawEvent{toWarschauer, toWedding}, antonplatz, model.Arrivals)
	if len(arrs.Records) != 2 {
		t.Errorf("arrivals are not filtered by direction: %+v", arrs)
	}
}

func TestArrivalDirectionFallsBackToProvenance(t *testing.T) {
	ev := event("a", "M13", "2024-01-15T08:00:00+01:00", nil)
	ev.Direction = nil
	ev.Provenance = str("S Warschauer Straße")

	res, _ := defaultNormalizer().Normalize([]model.RawEvent{ev}, antonplatz, model.Arrivals)
	if res.Records[0].Direction != "S Warschauer Straße" {
		t.Errorf("direction = %q", res.Records[0].Direction)
	}

	dep, _ := defaultNormalizer().Normalize([]model.RawEvent{ev}, antonplatz, model.Departures)
	if dep.Records[0].Direction != "" {
		t.Errorf("departures do not use provenance, got %q", dep.Records[0].Direction)
	}
}

func TestFieldsCarried(t *testing.T) {
	ev := event("1|32611|3|86|15012024", "M13", "2024-01-15T08:00:00+01:00", str("2024-01-15T08:01:30+01:00"))
	ev.Delay = i64(90)
	ev.Occupancy = str("low")

	res, _ := defaultNormalizer().Normalize([]model.RawEvent{ev}, antonplatz, model.Departures)
	rec := res.Records[0]

	if rec.Station != "Antonplatz" || rec.StationID != "900140011" || rec.Endpoint != model.Departures {
		t.Errorf("station fields: %+v", rec)
	}
	if rec.Product != "tram" || rec.Line != "M13" {
		t.Errorf("line fields: %+v", rec)
	}
	if rec.ReportedDelaySeconds == nil || *rec.ReportedDelaySeconds != 90 {
		t.Errorf("reported delay: %v", rec.ReportedDelaySeconds)
	}
	if rec.Occupancy == nil || *rec.Occupancy != "low" {
		t.Errorf("occupancy: %v", rec.Occupancy)
	}
	if rec.ScheduledTime.Location() != time.UTC || !rec.ScheduledTime.Equal(time.Date(2024, 1, 15, 7, 0, 0, 0, time.UTC)) {
		t.Errorf("scheduled time not normalized to UTC: %v", rec.ScheduledTime)
	}
}

func TestFromConfig(t *testing.T) {
	n := FromConfig(config.LineConfig{Name: "M10", Match: "fold", PunctualityThreshold: 2 * time.Minute})
	if !n.Matches("m10") || n.Matches("M13") {
		t.Error("FromConfig should honour name and match policy")
	}
	if !Punctual(120, n.opts.Threshold) || Punctual(121, n.opts.Threshold) {
		t.Error("FromConfig should honour the threshold")
	}
}
