// Package tui renders run, station and report summaries for the terminal.
package tui

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/transitflow/transitflow/internal/model"
	"github.com/transitflow/transitflow/pkg/pipeline"
	"github.com/transitflow/transitflow/pkg/report"
	"github.com/transitflow/transitflow/pkg/writer"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	warning = lipgloss.Color("#FFAA00")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(warning).Bold(true)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	headerStyle  = cellStyle.Bold(true).Foreground(white)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// statusLine renders the headline for a run status.
func statusLine(s pipeline.Status) string {
	switch s {
	case pipeline.StatusSuccess:
		return successStyle.Render("✓ RUN SUCCEEDED")
	case pipeline.StatusPartial:
		return warningStyle.Render("◐ RUN PARTIALLY SUCCEEDED")
	default:
		return accentStyle.Render("✗ RUN FAILED")
	}
}

// RenderRun writes the per-pair outcome of a run.
func RenderRun(w io.Writer, res *pipeline.RunResult) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  "+statusLine(res.Status))
	fmt.Fprintf(w, "  %s %s  %s %s\n",
		mutedStyle.Render("Run:"), titleStyle.Render(res.RunID),
		mutedStyle.Render("Time:"), titleStyle.Render(formatDuration(res.Duration)))

	if res.Err != nil {
		fmt.Fprintf(w, "  %s %v\n\n", accentStyle.Render("Aborted:"), res.Err)
		return
	}

	t := newTable("station", "endpoint", "state", "records", "skipped", "attempts", "detail")
	for _, p := range res.Pairs {
		detail := ""
		if p.Artifact != nil {
			detail = p.Artifact.Key
		}
		if p.Reason != "" {
			detail = p.Reason
		}
		t.Row(
			p.Station.Key,
			p.Endpoint.String(),
			string(p.State),
			strconv.Itoa(p.Records),
			strconv.Itoa(p.Skipped),
			fmt.Sprintf("%d/%d", p.FetchAttempts, p.WriteAttempts),
			detail,
		)
	}
	fmt.Fprintln(w, t.String())
	fmt.Fprintf(w, "  %s %d  %s %d  %s %d\n\n",
		mutedStyle.Render("Succeeded:"), len(res.Succeeded()),
		mutedStyle.Render("Failed:"), len(res.Failed()),
		mutedStyle.Render("Skipped records:"), res.Skipped())
}

// RenderStations writes resolved station identifiers.
func RenderStations(w io.Writer, refs []model.StationRef) {
	t := newTable("station", "id", "key")
	for _, r := range refs {
		t.Row(r.Name, r.ID, r.Key)
	}
	fmt.Fprintln(w, t.String())
}

// RenderArtifact writes the identity of a decoded artifact and up to limit
// of its records.
func RenderArtifact(w io.Writer, key string, size int64, art *writer.Artifact, limit int) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Key:"), titleStyle.Render(key))
	fmt.Fprintf(w, "  %s %s (%s)\n", mutedStyle.Render("Station:"), art.Batch.Station.Name, art.Batch.Station.ID)
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Endpoint:"), art.Batch.Endpoint)
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Retrieved:"), art.Batch.RetrievedAt.Format(time.RFC3339))
	if art.RunID != "" {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Run:"), art.RunID)
	}
	fmt.Fprintf(w, "  %s %d  %s %s\n", mutedStyle.Render("Rows:"), art.Rows, mutedStyle.Render("Size:"), formatBytes(size))

	if len(art.Batch.Records) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  (no trips in this window)"))
		fmt.Fprintln(w)
		return
	}

	t := newTable("trip", "line", "direction", "scheduled", "delay", "punctual", "cancelled")
	for i, r := range art.Batch.Records {
		if limit > 0 && i >= limit {
			break
		}
		t.Row(
			r.TripID,
			r.Line,
			r.Direction,
			r.ScheduledTime.Format(time.RFC3339),
			optional(r.DelaySeconds, func(v int64) string { return strconv.FormatInt(v, 10) + "s" }),
			optional(r.Punctual, strconv.FormatBool),
			strconv.FormatBool(r.Cancelled),
		)
	}
	fmt.Fprintln(w, t.String())
	if limit > 0 && len(art.Batch.Records) > limit {
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("  … %d more", len(art.Batch.Records)-limit)))
	}
	fmt.Fprintln(w)
}

// RenderReport writes the aggregated punctuality table.
func RenderReport(w io.Writer, rep *report.Report) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %d artifacts\n", mutedStyle.Render("Scanned:"), rep.Files)
	if len(rep.Rows) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  no records found"))
		fmt.Fprintln(w)
		return
	}

	t := newTable("station", "endpoint", "line", "records", "realized", "punctual", "avg delay", "max delay")
	for _, r := range rep.Rows {
		avg, maxDelay := "-", "-"
		if r.AvgDelaySeconds.Valid {
			avg = fmt.Sprintf("%.1fs", r.AvgDelaySeconds.Float64)
		}
		if r.MaxDelaySeconds.Valid {
			maxDelay = fmt.Sprintf("%ds", r.MaxDelaySeconds.Int64)
		}
		t.Row(
			r.Station,
			r.Endpoint,
			r.Line,
			strconv.FormatInt(r.Records, 10),
			strconv.FormatInt(r.Realized, 10),
			fmt.Sprintf("%.1f%%", r.PunctualityRate()*100),
			avg,
			maxDelay,
		)
	}
	fmt.Fprintln(w, t.String())
	fmt.Fprintln(w)
}

func optional[T any](v *T, format func(T) string) string {
	if v == nil {
		return "-"
	}
	return format(*v)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
