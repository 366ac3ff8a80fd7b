package writer

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/transitflow/transitflow/internal/model"
	tferrors "github.com/transitflow/transitflow/pkg/errors"
)

// File-level key/value metadata. It keeps zero-row artifacts self-describing.
const (
	metaStation     = "transitflow.station"
	metaStationID   = "transitflow.station_id"
	metaStationKey  = "transitflow.station_key"
	metaEndpoint    = "transitflow.endpoint"
	metaRetrievedAt = "transitflow.retrieved_at"
	metaRunID       = "transitflow.run_id"
)

// Column order of the artifact schema.
const (
	colTripID = iota
	colLine
	colProduct
	colDirection
	colStation
	colStationID
	colEndpoint
	colScheduled
	colActual
	colDelay
	colReportedDelay
	colPunctual
	colOccupancy
	colCancelled
	colRemarks
	colRetrievedAt
	numColumns
)

var timestampType = arrow.FixedWidthTypes.Timestamp_ms

// Fields returns the artifact columns. Optional record fields are nullable
// columns, never sentinel values.
func Fields() []arrow.Field {
	return []arrow.Field{
		{Name: "trip_id", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "line", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "product", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "direction", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "station", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "station_id", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "endpoint_kind", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "scheduled_time", Type: timestampType, Nullable: false},
		{Name: "actual_time", Type: timestampType, Nullable: true},
		{Name: "delay_seconds", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "reported_delay_seconds", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "punctual", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
		{Name: "occupancy", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "cancelled", Type: arrow.FixedWidthTypes.Boolean, Nullable: false},
		{Name: "remarks", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: false},
		{Name: "retrieved_at", Type: timestampType, Nullable: false},
	}
}

// batchSchema attaches the batch identity as schema metadata, which the
// Parquet writer copies into the file footer.
func batchSchema(batch *model.RunBatch) *arrow.Schema {
	md := arrow.NewMetadata(
		[]string{metaStation, metaStationID, metaStationKey, metaEndpoint, metaRetrievedAt, metaRunID},
		[]string{
			batch.Station.Name,
			batch.Station.ID,
			batch.Station.Key,
			batch.Endpoint.String(),
			batch.RetrievedAt.UTC().Format(time.RFC3339Nano),
			batch.RunID,
		},
	)
	return arrow.NewSchema(Fields(), &md)
}

func (c CompressionType) codec() compress.Compression {
	switch c {
	case CompressionSnappy:
		return compress.Codecs.Snappy
	case CompressionGzip:
		return compress.Codecs.Gzip
	case CompressionZstd:
		return compress.Codecs.Zstd
	case CompressionLZ4:
		return compress.Codecs.Lz4
	default:
		return compress.Codecs.Uncompressed
	}
}

// Encode serializes batch into a complete Parquet file. An empty batch yields
// a valid file with zero rows.
func Encode(batch *model.RunBatch, compression CompressionType) ([]byte, error) {
	allocator := memory.NewGoAllocator()
	schema := batchSchema(batch)

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compression.codec()),
		parquet.WithDictionaryDefault(true),
		parquet.WithAllocator(allocator),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
	)

	var buf bytes.Buffer
	fw, err := pqarrow.NewFileWriter(schema, &buf, writerProps, arrowProps)
	if err != nil {
		return nil, encodeError(err, batch)
	}

	if batch.Len() > 0 {
		rec := buildRecord(allocator, schema, batch)
		err = fw.Write(rec)
		rec.Release()
		if err != nil {
			fw.Close()
			return nil, encodeError(err, batch)
		}
	}

	if err := fw.Close(); err != nil {
		return nil, encodeError(err, batch)
	}
	return buf.Bytes(), nil
}

func encodeError(err error, batch *model.RunBatch) error {
	return tferrors.Wrap(err, tferrors.CodeEncodeFailed, "failed to encode parquet artifact").
		WithContext("station", batch.Station.Name).
		WithContext("endpoint", batch.Endpoint.String())
}

// buildRecord converts the batch rows into one Arrow record.
func buildRecord(allocator memory.Allocator, schema *arrow.Schema, batch *model.RunBatch) arrow.Record {
	b := array.NewRecordBuilder(allocator, schema)
	defer b.Release()
	b.Reserve(batch.Len())

	str := func(i int) *array.StringBuilder { return b.Field(i).(*array.StringBuilder) }
	ts := func(i int) *array.TimestampBuilder { return b.Field(i).(*array.TimestampBuilder) }
	i64 := func(i int) *array.Int64Builder { return b.Field(i).(*array.Int64Builder) }
	boolean := func(i int) *array.BooleanBuilder { return b.Field(i).(*array.BooleanBuilder) }

	remarks := b.Field(colRemarks).(*array.ListBuilder)
	remarkValues := remarks.ValueBuilder().(*array.StringBuilder)
	retrievedAt := toTimestamp(batch.RetrievedAt)

	for i := range batch.Records {
		r := &batch.Records[i]

		str(colTripID).Append(r.TripID)
		str(colLine).Append(r.Line)
		str(colProduct).Append(r.Product)
		str(colDirection).Append(r.Direction)
		str(colStation).Append(r.Station)
		str(colStationID).Append(r.StationID)
		str(colEndpoint).Append(r.Endpoint.String())
		ts(colScheduled).Append(toTimestamp(r.ScheduledTime))

		if r.ActualTime != nil {
			ts(colActual).Append(toTimestamp(*r.ActualTime))
		} else {
			ts(colActual).AppendNull()
		}
		appendInt64(i64(colDelay), r.DelaySeconds)
		appendInt64(i64(colReportedDelay), r.ReportedDelaySeconds)

		if r.Punctual != nil {
			boolean(colPunctual).Append(*r.Punctual)
		} else {
			boolean(colPunctual).AppendNull()
		}
		if r.Occupancy != nil {
			str(colOccupancy).Append(*r.Occupancy)
		} else {
			str(colOccupancy).AppendNull()
		}
		boolean(colCancelled).Append(r.Cancelled)

		remarks.Append(true)
		for _, text := range r.Remarks {
			remarkValues.Append(text)
		}

		ts(colRetrievedAt).Append(retrievedAt)
	}

	return b.NewRecord()
}

func appendInt64(b *array.Int64Builder, v *int64) {
	if v != nil {
		b.Append(*v)
	} else {
		b.AppendNull()
	}
}

func toTimestamp(t time.Time) arrow.Timestamp {
	return arrow.Timestamp(t.UTC().UnixMilli())
}

func fromTimestamp(v arrow.Timestamp) time.Time {
	return time.UnixMilli(int64(v)).UTC()
}

// Artifact is a decoded Parquet artifact.
type Artifact struct {
	RunID string
	Batch model.RunBatch
	Rows  int64
}

// Decode reads an artifact produced by Encode.
func Decode(ctx context.Context, data []byte) (*Artifact, error) {
	reader, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet artifact: %w", err)
	}
	defer reader.Close()

	art := &Artifact{Rows: reader.NumRows()}
	kv := reader.MetaData().KeyValueMetadata()
	lookup := func(key string) string {
		if v := kv.FindValue(key); v != nil {
			return *v
		}
		return ""
	}
	art.RunID = lookup(metaRunID)
	art.Batch.RunID = art.RunID
	art.Batch.Station = model.StationRef{
		Name: lookup(metaStation),
		ID:   lookup(metaStationID),
		Key:  lookup(metaStationKey),
	}
	art.Batch.Endpoint = model.EndpointKind(lookup(metaEndpoint))
	if s := lookup(metaRetrievedAt); s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			art.Batch.RetrievedAt = t.UTC()
		}
	}

	arrowReader, err := pqarrow.NewFileReader(reader, pqarrow.ArrowReadProperties{BatchSize: 1024}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader: %w", err)
	}

	table, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet table: %w", err)
	}
	defer table.Release()

	if int(table.NumCols()) != numColumns {
		return nil, fmt.Errorf("unexpected column count %d, want %d", table.NumCols(), numColumns)
	}

	art.Batch.Records = make([]model.NormalizedRecord, 0, table.NumRows())
	tr := array.NewTableReader(table, 1024)
	defer tr.Release()

	for tr.Next() {
		records, err := decodeRecord(tr.Record())
		if err != nil {
			return nil, err
		}
		art.Batch.Records = append(art.Batch.Records, records...)
	}
	return art, nil
}

func decodeRecord(rec arrow.Record) (out []model.NormalizedRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected artifact column types: %v", r)
		}
	}()

	str := func(i int) *array.String { return rec.Column(i).(*array.String) }
	ts := func(i int) *array.Timestamp { return rec.Column(i).(*array.Timestamp) }
	i64 := func(i int) *array.Int64 { return rec.Column(i).(*array.Int64) }
	boolean := func(i int) *array.Boolean { return rec.Column(i).(*array.Boolean) }

	remarks := rec.Column(colRemarks).(*array.List)
	remarkValues := remarks.ListValues().(*array.String)

	n := int(rec.NumRows())
	out = make([]model.NormalizedRecord, n)
	for i := 0; i < n; i++ {
		r := &out[i]
		r.TripID = str(colTripID).Value(i)
		r.Line = str(colLine).Value(i)
		r.Product = str(colProduct).Value(i)
		r.Direction = str(colDirection).Value(i)
		r.Station = str(colStation).Value(i)
		r.StationID = str(colStationID).Value(i)
		r.Endpoint = model.EndpointKind(str(colEndpoint).Value(i))
		r.ScheduledTime = fromTimestamp(ts(colScheduled).Value(i))

		if actual := ts(colActual); actual.IsValid(i) {
			t := fromTimestamp(actual.Value(i))
			r.ActualTime = &t
		}
		r.DelaySeconds = int64At(i64(colDelay), i)
		r.ReportedDelaySeconds = int64At(i64(colReportedDelay), i)

		if p := boolean(colPunctual); p.IsValid(i) {
			v := p.Value(i)
			r.Punctual = &v
		}
		if o := str(colOccupancy); o.IsValid(i) {
			v := o.Value(i)
			r.Occupancy = &v
		}
		r.Cancelled = boolean(colCancelled).Value(i)

		start, end := remarks.ValueOffsets(i)
		r.Remarks = make([]string, 0, end-start)
		for j := start; j < end; j++ {
			r.Remarks = append(r.Remarks, remarkValues.Value(int(j)))
		}
	}
	return out, nil
}

func int64At(arr *array.Int64, i int) *int64 {
	if !arr.IsValid(i) {
		return nil
	}
	v := arr.Value(i)
	return &v
}
