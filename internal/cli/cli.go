// Package cli renders a run for plain terminals: a header, a progress line
// while requests are in flight, and the final report.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"usagegen/internal/stats"
	"usagegen/internal/storage"
	"usagegen/internal/tui/styles"
)

const rule = "======================================================================"

// RunInfo describes a run for the header.
type RunInfo struct {
	Stage    string
	Enhanced bool
	BaseURL  string
	Tests    []string
	Planned  int // negative when a test is unbounded
}

func PrintHeader(w io.Writer, info RunInfo) {
	fmt.Fprintf(w, "\n%s\n", styles.Title.Render("USAGEGEN RUN"))
	fmt.Fprintln(w, rule)
	stage := info.Stage
	if info.Enhanced {
		stage += " (enhanced)"
	}
	fmt.Fprintf(w, "Stage    : %s\n", stage)
	if info.BaseURL != "" {
		fmt.Fprintf(w, "Base URL : %s\n", info.BaseURL)
	}
	fmt.Fprintf(w, "Tests    : %s\n", strings.Join(info.Tests, ", "))
	if info.Planned < 0 {
		fmt.Fprintf(w, "Requests : unbounded (stop with ctrl+c)\n")
	} else {
		fmt.Fprintf(w, "Requests : %d planned\n", info.Planned)
	}
	fmt.Fprintf(w, "%s\n\n", rule)
}

// Monitor redraws the progress line until done closes or ctx ends.
func Monitor(ctx context.Context, w io.Writer, state *stats.RunState, planned int, done <-chan struct{}) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprint(w, "\r"+ProgressLine(state.Snapshot(time.Now()), planned)+"  stopping...\n")
			return
		case <-done:
			fmt.Fprint(w, "\r"+ProgressLine(state.Snapshot(time.Now()), planned)+"\n")
			return
		case <-ticker.C:
			fmt.Fprint(w, "\r"+ProgressLine(state.Snapshot(time.Now()), planned))
		}
	}
}

// ProgressLine formats a snapshot. Runs without a bound show no bar.
func ProgressLine(snap stats.Snapshot, planned int) string {
	rps := 0.0
	if snap.Elapsed > 0 {
		rps = float64(snap.Attempted) / snap.Elapsed.Seconds()
	}
	tail := fmt.Sprintf("%s | RPS: %.1f | OK: %d | Err: %d | P90: %s",
		snap.Elapsed.Round(time.Second), rps, snap.Succeeded, snap.Failed, snap.P90.Round(time.Millisecond))

	if planned <= 0 {
		return fmt.Sprintf("%d sent | %s", snap.Attempted, tail)
	}
	pct := float64(snap.Attempted) / float64(planned)
	if pct > 1 {
		pct = 1
	}
	return fmt.Sprintf("%s %3.0f%% | %d/%d | %s", progressBar(pct, 20), pct*100, snap.Attempted, planned, tail)
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	filled = max(0, min(filled, width))
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

// PrintSummary writes the detailed report. The one-line summary is printed
// separately by the caller.
func PrintSummary(w io.Writer, sum stats.Summary) {
	fmt.Fprintf(w, "\n%s\n", styles.Title.Render("RESULTS"))
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Duration   : %s\n", sum.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Requests   : %d\n", sum.Attempted)
	fmt.Fprintf(w, "Success    : %s\n", styles.Success.Render(fmt.Sprint(sum.Succeeded)))
	failed := fmt.Sprintf("%d (%.2f%%)", sum.Failed, sum.ErrorRate())
	if sum.Failed > 0 {
		failed = styles.Error.Render(failed)
	}
	fmt.Fprintf(w, "Failures   : %s\n", failed)
	fmt.Fprintf(w, "Received   : %s\n", formatBytes(sum.Bytes))

	fmt.Fprintf(w, "\nService time\n")
	fmt.Fprintf(w, "   P50 : %s\n", sum.P50.Round(time.Microsecond))
	fmt.Fprintf(w, "   P90 : %s\n", sum.P90.Round(time.Microsecond))
	fmt.Fprintf(w, "   P99 : %s\n", sum.P99.Round(time.Microsecond))
	fmt.Fprintf(w, "   Max : %s\n", sum.Max.Round(time.Microsecond))

	if len(sum.PerTest) > 0 {
		fmt.Fprintf(w, "\nPer test\n")
		for _, name := range sum.Tests() {
			c := sum.PerTest[name]
			fmt.Fprintf(w, "   %-28s %6d sent %6d ok %6d failed\n", name, c.Attempted, c.Succeeded, c.Failed)
		}
	}

	if top := sum.TopErrors(); len(top) > 0 {
		fmt.Fprintf(w, "\n%s\n", styles.Error.Render("Failures"))
		for i, e := range top {
			if i == 10 {
				fmt.Fprintf(w, "   ... %d more\n", len(top)-i)
				break
			}
			fmt.Fprintf(w, "   %d x %s\n", e.Count, e.Key)
		}
	}
	fmt.Fprintln(w, rule)
}

// PrintHistory lists saved runs, newest first.
func PrintHistory(w io.Writer, recs []storage.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no saved runs")
		return
	}
	fmt.Fprintf(w, "%-36s  %-19s  %-5s  %8s  %8s  %s\n", "ID", "TIME", "STAGE", "REQS", "ERRORS", "TESTS")
	for _, r := range recs {
		fmt.Fprintf(w, "%-36s  %-19s  %-5s  %8d  %8d  %s\n",
			r.ID, r.Timestamp.Local().Format("2006-01-02 15:04:05"), r.Stage,
			r.Summary.Attempted, r.Summary.Failed, strings.Join(r.Tests, ","))
	}
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
