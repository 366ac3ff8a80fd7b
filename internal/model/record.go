package model

import "time"

// NormalizedRecord is the durable, per-trip row persisted for analysis.
// Nil pointers mean "unknown" or "not yet realized" and are stored as nulls.
type NormalizedRecord struct {
	TripID    string
	Line      string
	Product   string
	Direction string
	Station   string
	StationID string
	Endpoint  EndpointKind

	ScheduledTime time.Time
	ActualTime    *time.Time

	// DelaySeconds is ActualTime - ScheduledTime, nil while the trip is pending.
	DelaySeconds *int64

	// Punctual is DelaySeconds <= threshold, nil while the trip is pending.
	Punctual *bool

	// ReportedDelaySeconds is the upstream's own delay figure, carried verbatim.
	ReportedDelaySeconds *int64

	Occupancy *string
	Cancelled bool
	Remarks   []string
}

// Pending reports whether the movement has not been realized yet.
func (r *NormalizedRecord) Pending() bool {
	return r.ActualTime == nil
}

// RunBatch is every record produced for one (station, endpoint) pair in one run.
// It is never mutated after creation.
type RunBatch struct {
	RunID       string
	Station     StationRef
	Endpoint    EndpointKind
	RetrievedAt time.Time
	Records     []NormalizedRecord
}

// Len returns the number of records in the batch.
func (b *RunBatch) Len() int {
	return len(b.Records)
}

// StoredArtifact references a persisted batch.
type StoredArtifact struct {
	Key     string
	Records int
	Bytes   int64
	ETag    string
}
