package report

import (
	"database/sql"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet holding the report rows.
const SheetName = "Punctuality"

var header = []interface{}{
	"station", "endpoint", "line",
	"records", "realized", "punctual", "cancelled",
	"punctuality_rate", "avg_delay_seconds", "max_delay_seconds",
}

// WriteXLSX exports the report as a single-sheet workbook.
func (r *Report) WriteXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(SheetName, "A1", last, bold); err != nil {
		return err
	}

	for i, row := range r.Rows {
		values := []interface{}{
			row.Station, row.Endpoint, row.Line,
			row.Records, row.Realized, row.Punctual, row.Cancelled,
			row.PunctualityRate(), nil, nil,
		}
		if row.AvgDelaySeconds.Valid {
			values[8] = row.AvgDelaySeconds.Float64
		}
		if row.MaxDelaySeconds.Valid {
			values[9] = row.MaxDelaySeconds.Int64
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	return f.Write(w)
}

// ReadXLSX reads rows back from a workbook written by WriteXLSX.
func ReadXLSX(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()

	cells, err := f.GetRows(SheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("xlsx file is empty")
	}

	var rows []Row
	for n, c := range cells[1:] {
		// trailing empty cells are trimmed by excelize
		for len(c) < len(header) {
			c = append(c, "")
		}
		row := Row{Station: c[0], Endpoint: c[1], Line: c[2]}
		ints := []*int64{&row.Records, &row.Realized, &row.Punctual, &row.Cancelled}
		for i, dst := range ints {
			if *dst, err = strconv.ParseInt(c[3+i], 10, 64); err != nil {
				return nil, fmt.Errorf("row %d: bad %s: %w", n+2, header[3+i], err)
			}
		}
		if c[8] != "" {
			v, err := strconv.ParseFloat(c[8], 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: bad avg_delay_seconds: %w", n+2, err)
			}
			row.AvgDelaySeconds = sql.NullFloat64{Float64: v, Valid: true}
		}
		if c[9] != "" {
			v, err := strconv.ParseInt(c[9], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: bad max_delay_seconds: %w", n+2, err)
			}
			row.MaxDelaySeconds = sql.NullInt64{Int64: v, Valid: true}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
