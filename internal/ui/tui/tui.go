package tui

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/geomsync/geomsync/internal/control/client"
	"github.com/geomsync/geomsync/internal/geom"
	"github.com/geomsync/geomsync/internal/synth"
)

const (
	defaultRefresh = 500 * time.Millisecond
	historyRows    = 5
)

// Source is the subset of the control client the dashboard polls.
type Source interface {
	Status(ctx context.Context) (client.EngineStatus, error)
	Inspect(ctx context.Context) (client.InspectSnapshot, error)
	Metrics(ctx context.Context) (client.MetricsSnapshot, error)
}

// Renderer periodically polls the daemon and renders a textual dashboard.
type Renderer struct {
	Source  Source
	Writer  io.Writer
	Refresh time.Duration
	// Width truncates record lines when positive.
	Width int
	now   func() time.Time
}

// New returns a renderer configured with sensible defaults.
func New(src Source, w io.Writer) *Renderer {
	return &Renderer{Source: src, Writer: w, Refresh: defaultRefresh, now: time.Now}
}

// Run starts the render loop until the context is cancelled.
func (r *Renderer) Run(ctx context.Context) error {
	if r.Writer == nil {
		r.Writer = os.Stdout
	}
	if r.Source == nil {
		return fmt.Errorf("tui renderer requires a control client")
	}
	refresh := r.Refresh
	if refresh <= 0 {
		refresh = defaultRefresh
	}

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	fmt.Fprint(r.Writer, "\033[?25l")
	defer fmt.Fprint(r.Writer, "\033[?25h")

	r.render(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.render(ctx)
		}
	}
}

func (r *Renderer) render(ctx context.Context) {
	fmt.Fprint(r.Writer, r.Frame(ctx))
}

// Frame renders one dashboard screen, clear sequence included.
func (r *Renderer) Frame(ctx context.Context) string {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	var buf bytes.Buffer
	buf.WriteString("\033[H\033[2J")
	buf.WriteString("geomsync monitor (Ctrl+C to exit)\n")
	buf.WriteString(now().Format(time.RFC1123))
	buf.WriteString("\n\n")

	status, err := r.Source.Status(ctx)
	if err != nil {
		fmt.Fprintf(&buf, "error: %v\n", err)
		return buf.String()
	}
	buf.WriteString(renderStatus(status))

	snapshot, err := r.Source.Inspect(ctx)
	if err != nil {
		fmt.Fprintf(&buf, "error: %v\n", err)
		return buf.String()
	}
	if snapshot.World == nil && len(snapshot.Windows) == 0 {
		buf.WriteString("Waiting for the first synchronization cycle...\n")
		return buf.String()
	}
	buf.WriteString(renderDisplays(snapshot.Displays))
	buf.WriteString(r.renderRecords(snapshot.Windows))
	buf.WriteString(renderHistory(snapshot.History))

	if m, err := r.Source.Metrics(ctx); err == nil && m.Enabled {
		buf.WriteString(renderMetrics(m))
	}
	return buf.String()
}

func renderStatus(st client.EngineStatus) string {
	var b strings.Builder
	dirty := ""
	if st.Dirty {
		dirty = " (dirty)"
	}
	fmt.Fprintf(&b, "Scheduler: %s%s, debounce %s\n", st.State, dirty, st.Debounce)
	fmt.Fprintf(&b, "World: %d windows on %d displays, %d secure surfaces\n\n", st.Windows, st.Displays, st.Secure)
	return b.String()
}

func renderDisplays(displays []synth.DisplayRecord) string {
	var b strings.Builder
	b.WriteString("Displays:\n")
	if len(displays) == 0 {
		b.WriteString("  (none)\n\n")
		return b.String()
	}
	sorted := append([]synth.DisplayRecord(nil), displays...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tGeometry\tRotation\tDensity")
	for _, d := range sorted {
		rect := geom.Rect{X: d.X, Y: d.Y, Width: d.Width, Height: d.Height}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%.2f\n", d.ID, formatRect(rect), d.Rotation, d.Density)
	}
	tw.Flush()
	b.WriteByte('\n')
	return b.String()
}

// renderRecords lists records in delivery order, nested records indented.
func (r *Renderer) renderRecords(records []synth.WindowRecord) string {
	var b strings.Builder
	b.WriteString("Records:\n")
	if len(records) == 0 {
		b.WriteString("  (none)\n\n")
		return b.String()
	}
	var rows bytes.Buffer
	tw := tabwriter.NewWriter(&rows, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPID\tZ\tRect\tHot\tTarget\tFlags")
	for _, rec := range records {
		writeRecord(tw, "", rec)
		for _, e := range rec.EmbeddedRecords {
			writeRecord(tw, "  ", e)
		}
	}
	tw.Flush()
	for _, line := range strings.SplitAfter(rows.String(), "\n") {
		if line == "" {
			continue
		}
		b.WriteString(truncate(strings.TrimSuffix(line, "\n"), r.Width))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}

func writeRecord(w io.Writer, indent string, rec synth.WindowRecord) {
	target := "-"
	if rec.RoutingTargetID != rec.ID || rec.RoutingTargetPID != rec.OwnerPID {
		target = fmt.Sprintf("%d/%d", rec.RoutingTargetID, rec.RoutingTargetPID)
	}
	flags := "-"
	if rec.Flags != 0 {
		flags = rec.Flags.String()
	}
	fmt.Fprintf(w, "%s%d\t%d\t%.3f\t%s\t%d\t%s\t%s\n",
		indent, rec.ID, rec.OwnerPID, rec.ZOrder, formatRect(rec.ScreenRect), rec.HotAreaCount(), target, flags)
}

func renderHistory(history []client.CycleRecord) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Recent cycles:\n")
	start := 0
	if len(history) > historyRows {
		start = len(history) - historyRows
	}
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	for i := len(history) - 1; i >= start; i-- {
		rec := history[i]
		line := fmt.Sprintf("  %s\t%s\t%s\twindows=%d\tbatches=%d\t%s", rec.Started.Format("15:04:05.000"), rec.Mode, rec.Outcome, rec.Windows, rec.Batches, rec.Duration)
		if rec.Error != "" {
			line += "\t" + rec.Error
		}
		fmt.Fprintln(tw, line)
	}
	tw.Flush()
	b.WriteByte('\n')
	return b.String()
}

func renderMetrics(m client.MetricsSnapshot) string {
	var b strings.Builder
	b.WriteString("Counters:\n")
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	for _, c := range m.Counters {
		fmt.Fprintf(tw, "  %s\t%d\n", c.Name, c.Value)
	}
	tw.Flush()
	b.WriteByte('\n')
	return b.String()
}

func formatRect(rect geom.Rect) string {
	return fmt.Sprintf("%dx%d @ %d,%d", rect.Width, rect.Height, rect.X, rect.Y)
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}
