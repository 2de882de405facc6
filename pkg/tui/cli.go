// Package tui renders load progress and summaries for the terminal.
// Simple, streaming output; no full-screen UI.
package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/paygraph/paygraph/pkg/enrich"
	"github.com/paygraph/paygraph/pkg/ingest"
	"github.com/paygraph/paygraph/pkg/partition"
)

// Colors
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
)

const rule = "  ─────────────────────────────────────"

// PrintHeader prints the banner.
func PrintHeader(w io.Writer, version, subtitle string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  PAYGRAPH")+mutedStyle.Render(" "+version))
	fmt.Fprintln(w, mutedStyle.Render("  "+subtitle))
	fmt.Fprintln(w)
}

// LoadProgress draws a progress bar of written records. It implements
// ingest.Observer.
type LoadProgress struct {
	bar *progressbar.ProgressBar
	max int64
}

var _ ingest.Observer = (*LoadProgress)(nil)

// NewLoadProgress creates a bar for total records; total <= 0 draws a
// spinner instead. total may be an estimate: the bar grows when the load
// passes it.
func NewLoadProgress(w io.Writer, total int64) *LoadProgress {
	if total <= 0 {
		total = -1
	}
	return &LoadProgress{
		max: total,
		bar: progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("  loading"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("tx"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "█",
				SaucerHead:    "█",
				SaucerPadding: "░",
				BarStart:      "",
				BarEnd:        "",
			}),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		),
	}
}

// Progress moves the bar to the written record count.
func (p *LoadProgress) Progress(stats ingest.Stats) {
	p.set(stats.RecordsWritten)
}

// Finished completes and clears the bar.
func (p *LoadProgress) Finished(stats ingest.Stats, err error) {
	p.set(stats.RecordsWritten)
	if err == nil {
		p.bar.Finish()
		return
	}
	p.bar.Clear()
}

func (p *LoadProgress) set(written int64) {
	if p.max > 0 && written > p.max {
		p.max = written
		p.bar.ChangeMax64(written)
	}
	p.bar.Set64(written)
}

// Summary is the end-of-run report.
type Summary struct {
	RunID   string
	Source  string
	Backend string
	Stats   ingest.Stats
	Passes  []enrich.PassResult
	Err     error
}

// PrintSummary prints the outcome of a load.
func PrintSummary(w io.Writer, s Summary) {
	st := s.Stats
	fmt.Fprintln(w)
	if s.Err != nil {
		fmt.Fprintln(w, accentStyle.Render("  ✗ LOAD FAILED"))
		fmt.Fprintln(w, mutedStyle.Render("  "+s.Err.Error()))
	} else {
		fmt.Fprintln(w, successStyle.Render("  ✓ LOAD COMPLETE"))
	}
	fmt.Fprintln(w)

	row := func(label, value string) {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(fmt.Sprintf("%-14s", label+":")), titleStyle.Render(value))
	}
	if s.RunID != "" {
		row("Run", s.RunID)
	}
	row("Source", s.Source)
	row("Backend", s.Backend)
	row("Transactions", formatNumber(st.RecordsWritten))
	row("Batches", fmt.Sprintf("%d (%d buckets)", st.Batches, st.Buckets))
	row("Overflow", formatNumber(st.OverflowRecords))
	row("Nodes", formatNumber(st.NodesCreated))
	row("Relationships", formatNumber(st.RelationshipsCreated))
	row("In flight", fmt.Sprintf("max %d", st.MaxInFlight))
	if st.FailedWrites > 0 {
		row("Failed writes", accentStyle.Render(fmt.Sprintf("%d", st.FailedWrites)))
	}
	row("Time", fmt.Sprintf("%s (%s tx/s)", ingest.FormatElapsed(st.Elapsed), formatNumber(int64(st.Throughput()))))

	if len(s.Passes) > 0 {
		fmt.Fprintln(w, mutedStyle.Render(rule))
		for _, p := range s.Passes {
			row(p.Name, fmt.Sprintf("%d chunks, %d nodes, %d rels, %s",
				p.Chunks, p.Result.NodesCreated, p.Result.RelationshipsCreated, formatDuration(p.Elapsed)))
		}
	}
	fmt.Fprintln(w)
}

// PrintPlan prints one batch's partition plan.
func PrintPlan(w io.Writer, batch int64, plan partition.Plan) {
	sizes := make([]string, 0, len(plan.Buckets))
	for _, b := range plan.Buckets {
		if b.IsOverflow() {
			sizes = append(sizes, fmt.Sprintf("+%d", b.Len()))
			continue
		}
		sizes = append(sizes, fmt.Sprintf("%d", b.Len()))
	}
	overflow := mutedStyle.Render("0")
	if plan.Overflow > 0 {
		overflow = accentStyle.Render(fmt.Sprintf("%d", plan.Overflow))
	}
	fmt.Fprintf(w, "  %s buckets=[%s] threshold=%d largest=%d components=%d overflow=%s\n",
		titleStyle.Render(fmt.Sprintf("batch %4d", batch)),
		strings.Join(sizes, " "),
		plan.Threshold,
		plan.LargestComponent,
		plan.Components,
		overflow)
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

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}
