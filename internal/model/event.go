// Package model defines core data structures for transitflow.
package model

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// EndpointKind selects the departure or arrival board of a station.
type EndpointKind string

const (
	Departures EndpointKind = "departures"
	Arrivals   EndpointKind = "arrivals"
)

// EndpointKinds lists every supported kind in collection order.
var EndpointKinds = []EndpointKind{Departures, Arrivals}

func (k EndpointKind) String() string {
	return string(k)
}

// Valid reports whether k is a known endpoint kind.
func (k EndpointKind) Valid() bool {
	return k == Departures || k == Arrivals
}

// ParseEndpointKind parses "departures" or "arrivals".
func ParseEndpointKind(s string) (EndpointKind, error) {
	k := EndpointKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown endpoint kind %q", s)
	}
	return k, nil
}

// StationRef is a resolved station. It is immutable once resolved.
type StationRef struct {
	// Name is the configured human-readable name.
	Name string

	// ID is the upstream location identifier.
	ID string

	// Key is the storage-safe slug used in artifact keys.
	Key string
}

// RawEvent is one upstream movement record as decoded from the API.
// Pointer fields are absent when the upstream omits them or sends null.
type RawEvent struct {
	TripID      string   `json:"tripId"`
	Line        *Line    `json:"line"`
	Direction   *string  `json:"direction"`
	Provenance  *string  `json:"provenance"`
	PlannedWhen *string  `json:"plannedWhen"`
	When        *string  `json:"when"`
	Delay       *int64   `json:"delay"`
	Occupancy   *string  `json:"occupancy"`
	Cancelled   bool     `json:"cancelled"`
	Platform    *string  `json:"platform"`
	Remarks     []Remark `json:"remarks"`
	Stop        *Stop    `json:"stop"`
}

// Line describes the transit line serving a movement.
type Line struct {
	Name    string `json:"name"`
	Product string `json:"product"`
}

// Remark is a free-text hint or disruption notice attached to a movement.
type Remark struct {
	Type string  `json:"type"`
	Code string  `json:"code"`
	Text *string `json:"text"`
}

// Stop identifies the stop an upstream record was reported for.
type Stop struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LineName returns the line label, or "" when the record carries no line.
func (e *RawEvent) LineName() string {
	if e.Line == nil {
		return ""
	}
	return e.Line.Name
}

// Slug turns a station name into a lowercase storage key segment.
// Diacritics are stripped and runs of other characters collapse to "_".
func Slug(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = strings.NewReplacer("ß", "ss", "ẞ", "ss").Replace(folded)

	var sb strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && sb.Len() > 0 {
				sb.WriteByte('_')
			}
			pendingSep = false
			sb.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return sb.String()
}

// Location is one candidate returned by the upstream location search.
type Location struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IsStop reports whether the location is a stop or station rather than an
// address or point of interest.
func (l Location) IsStop() bool {
	return l.Type == "stop" || l.Type == "station"
}
