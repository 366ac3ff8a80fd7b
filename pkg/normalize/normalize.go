// Package normalize turns upstream board entries into durable per-trip records.
package normalize

import (
	"strings"
	"time"

	"github.com/transitflow/transitflow/internal/model"
	"github.com/transitflow/transitflow/pkg/config"
	tferrors "github.com/transitflow/transitflow/pkg/errors"
)

// MatchPolicy decides how line labels are compared with the target line.
type MatchPolicy string

const (
	// MatchExact compares labels byte for byte ("M13" != "m13").
	MatchExact MatchPolicy = "exact"
	// MatchFold compares labels ignoring case.
	MatchFold MatchPolicy = "fold"
)

// Skip reasons reported in Result.SkipReasons.
const (
	SkipMissingTripID      = "missing_trip_id"
	SkipMissingPlannedTime = "missing_planned_time"
	SkipBadPlannedTime     = "bad_planned_time"
	SkipBadActualTime      = "bad_actual_time"
)

// Options configures a Normalizer.
type Options struct {
	// Line is the target line label.
	Line string

	// Match defaults to MatchExact.
	Match MatchPolicy

	// Threshold is the largest delay still counted as punctual (inclusive).
	Threshold time.Duration

	// Directions, when non-empty, keeps only departures heading to one of them.
	Directions []string

	// MaxSkipped fails normalization once more records are skipped (0 = unlimited).
	MaxSkipped int
}

// Result is the outcome of normalizing one board.
type Result struct {
	Records []model.NormalizedRecord

	// Filtered counts entries for other lines or directions.
	Filtered int

	// Skipped counts malformed entries of the target line.
	Skipped     int
	SkipReasons map[string]int
}

// Normalizer is stateless after construction and safe for concurrent use.
type Normalizer struct {
	opts       Options
	directions map[string]bool
}

// New creates a Normalizer.
func New(opts Options) *Normalizer {
	if opts.Match == "" {
		opts.Match = MatchExact
	}
	n := &Normalizer{opts: opts}
	if len(opts.Directions) > 0 {
		n.directions = make(map[string]bool, len(opts.Directions))
		for _, d := range opts.Directions {
			n.directions[d] = true
		}
	}
	return n
}

// FromConfig creates a Normalizer from the line section of the configuration.
func FromConfig(c config.LineConfig) *Normalizer {
	return New(Options{
		Line:       c.Name,
		Match:      MatchPolicy(c.Match),
		Threshold:  c.PunctualityThreshold,
		Directions: c.Directions,
		MaxSkipped: c.MaxSkipped,
	})
}

// Matches reports whether a line label selects the target line.
func (n *Normalizer) Matches(line string) bool {
	if n.opts.Match == MatchFold {
		return strings.EqualFold(line, n.opts.Line)
	}
	return line == n.opts.Line
}

// Normalize filters events to the target line and converts them in input
// order. Malformed entries are skipped and counted, not fatal, unless the
// skip count exceeds MaxSkipped.
func (n *Normalizer) Normalize(events []model.RawEvent, station model.StationRef, kind model.EndpointKind) (Result, error) {
	res := Result{
		Records:     make([]model.NormalizedRecord, 0, len(events)),
		SkipReasons: make(map[string]int),
	}

	for i := range events {
		ev := &events[i]
		if !n.Matches(ev.LineName()) {
			res.Filtered++
			continue
		}

		direction := directionOf(ev, kind)
		if n.directions != nil && kind == model.Departures && !n.directions[direction] {
			res.Filtered++
			continue
		}

		rec, reason := n.convert(ev, direction, station, kind)
		if reason != "" {
			res.Skipped++
			res.SkipReasons[reason]++
			continue
		}
		res.Records = append(res.Records, rec)
	}

	if n.opts.MaxSkipped > 0 && res.Skipped > n.opts.MaxSkipped {
		return res, tferrors.New(tferrors.CodeNormalizeExhausted, "too many malformed records").
			WithContext("station", station.Name).
			WithContext("endpoint", kind.String()).
			WithContext("skipped", res.Skipped).
			WithContext("max_skipped", n.opts.MaxSkipped)
	}
	return res, nil
}

func (n *Normalizer) convert(ev *model.RawEvent, direction string, station model.StationRef, kind model.EndpointKind) (model.NormalizedRecord, string) {
	if strings.TrimSpace(ev.TripID) == "" {
		return model.NormalizedRecord{}, SkipMissingTripID
	}
	if ev.PlannedWhen == nil || *ev.PlannedWhen == "" {
		return model.NormalizedRecord{}, SkipMissingPlannedTime
	}
	scheduled, err := parseTime(*ev.PlannedWhen)
	if err != nil {
		return model.NormalizedRecord{}, SkipBadPlannedTime
	}

	rec := model.NormalizedRecord{
		TripID:               ev.TripID,
		Line:                 ev.LineName(),
		Direction:            direction,
		Station:              station.Name,
		StationID:            station.ID,
		Endpoint:             kind,
		ScheduledTime:        scheduled,
		ReportedDelaySeconds: ev.Delay,
		Occupancy:            ev.Occupancy,
		Cancelled:            ev.Cancelled,
		Remarks:              remarkTexts(ev.Remarks),
	}
	if ev.Line != nil {
		rec.Product = ev.Line.Product
	}

	// a cancelled trip is never realized
	if ev.When != nil && *ev.When != "" && !ev.Cancelled {
		actual, err := parseTime(*ev.When)
		if err != nil {
			return model.NormalizedRecord{}, SkipBadActualTime
		}
		rec.ActualTime = &actual
		delay := Delay(scheduled, actual)
		punctual := Punctual(delay, n.opts.Threshold)
		rec.DelaySeconds = &delay
		rec.Punctual = &punctual
	}

	return rec, ""
}

// Delay returns actual - scheduled in whole seconds.
func Delay(scheduled, actual time.Time) int64 {
	return int64(actual.Sub(scheduled) / time.Second)
}

// Punctual reports whether delay (seconds) is within threshold, inclusive.
func Punctual(delaySeconds int64, threshold time.Duration) bool {
	return delaySeconds <= int64(threshold/time.Second)
}

func directionOf(ev *model.RawEvent, kind model.EndpointKind) string {
	if ev.Direction != nil && *ev.Direction != "" {
		return *ev.Direction
	}
	if kind == model.Arrivals && ev.Provenance != nil {
		return *ev.Provenance
	}
	return ""
}

// remarkTexts keeps remark texts in order, dropping empties and exact repeats.
func remarkTexts(remarks []model.Remark) []string {
	out := make([]string, 0, len(remarks))
	seen := make(map[string]bool, len(remarks))
	for _, r := range remarks {
		if r.Text == nil || *r.Text == "" || seen[*r.Text] {
			continue
		}
		seen[*r.Text] = true
		out = append(out, *r.Text)
	}
	return out
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
