package stats

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/randomizedcoder/go-abr-replay/internal/logging"
)

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// SchedulePath is the replayed schedule file
	SchedulePath string

	// Mode is the buffer grouping mode ("short" or "long")
	Mode string

	// Plans is the number of schedule entries (one worker each)
	Plans int

	// Streams is the number of logical videos in play order
	Streams int

	// Peers lists the peer addresses
	Peers []string

	// MetricsAddr is the Prometheus metrics endpoint address
	MetricsAddr string

	// ShowPerStream enables the per-stream table
	ShowPerStream bool

	// RecentFailures are the last transfer failures, oldest first
	RecentFailures []logging.Failure
}

// MaxSummaryFailures is how many recent failures the exit summary lists.
const MaxSummaryFailures = 5

const (
	ruleHeavy = "═══════════════════════════════════════════════════════════════════════════════\n"
	ruleLight = "───────────────────────────────────────────────────────────────────────────────\n"
)

// FormatExitSummary formats the report for display at program exit.
func FormatExitSummary(r Report, cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(ruleHeavy)
	b.WriteString("                           abr-replay Exit Summary\n")
	b.WriteString(ruleHeavy + "\n")

	// Run info
	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(r.Duration()))
	if cfg.SchedulePath != "" {
		fmt.Fprintf(&b, "Schedule:               %s (%s mode)\n", cfg.SchedulePath, cfg.Mode)
	}
	fmt.Fprintf(&b, "Plans / Videos:         %d / %d\n", cfg.Plans, cfg.Streams)
	if len(cfg.Peers) > 0 {
		fmt.Fprintf(&b, "Peers:                  %s\n", strings.Join(cfg.Peers, ", "))
	}
	b.WriteString("\n")

	// QoE
	section(&b, "Quality of Experience")
	fmt.Fprintf(&b, "  Avg Throughput:       %s\n", FormatMbps(r.AvgThroughputMbps))
	fmt.Fprintf(&b, "  Throughput p50/p95/p99: %s / %s / %s\n",
		FormatMbps(r.ThroughputP50Mbps), FormatMbps(r.ThroughputP95Mbps), FormatMbps(r.ThroughputP99Mbps))
	fmt.Fprintf(&b, "  Jitter:               %s\n", FormatMbps(r.JitterMbps))
	fmt.Fprintf(&b, "  Avg Bitrate Selected: %s\n", FormatMbps(r.AvgBitrateSelectedMbps))
	fmt.Fprintf(&b, "  Stall Time:           %.2f s\n", r.TotalStalls)
	fmt.Fprintf(&b, "  Rebuffering Ratio:    %.4f\n", r.RebufferingRatio)
	if r.FairnessIndex != nil {
		fmt.Fprintf(&b, "  Fairness (Jain):      %.4f\n", *r.FairnessIndex)
	} else {
		b.WriteString("  Fairness (Jain):      n/a (no stream passed the ghost filter)\n")
	}
	b.WriteString("\n")

	// Transfers
	section(&b, "Transfers")
	fmt.Fprintf(&b, "  Total Bytes:          %s\n", FormatBytes(r.TotalBytes))
	fmt.Fprintf(&b, "  Chunks Completed:     %d\n", r.ChunksCompleted)
	fmt.Fprintf(&b, "  Chunks Failed:        %d\n", r.ChunksFailed)
	fmt.Fprintf(&b, "  Chunks Aborted:       %d\n", r.ChunksAborted)
	fmt.Fprintf(&b, "  Workers Swiped:       %d\n", r.WorkersSwiped)
	b.WriteString("\n")

	// Per-stream table
	if cfg.ShowPerStream && len(r.PerStream) > 0 {
		section(&b, "Per Stream")
		b.WriteString(perStreamTable(r))
		b.WriteString("\n")
	}

	// Errors
	if len(r.TransferErrors) > 0 {
		section(&b, "Transfer Errors")

		classes := make([]string, 0, len(r.TransferErrors))
		for c := range r.TransferErrors {
			classes = append(classes, c)
		}
		sort.Strings(classes)

		for _, c := range classes {
			fmt.Fprintf(&b, "  %-20s  %d\n", c+":", r.TransferErrors[c])
		}
		b.WriteString("\n")
	}

	if len(cfg.RecentFailures) > 0 {
		section(&b, "Recent Failures")
		failures := cfg.RecentFailures
		if len(failures) > MaxSummaryFailures {
			failures = failures[len(failures)-MaxSummaryFailures:]
		}
		for _, f := range failures {
			fmt.Fprintf(&b, "  %s  %-10s %-12s %s  %s\n",
				f.At.Format("15:04:05.000"), f.StreamID, f.Class, f.Peer, f.Message)
		}
		b.WriteString("\n")
	}

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString(ruleHeavy)
	return b.String()
}

func section(b *strings.Builder, title string) {
	pad := (len(ruleLight)/3 - len(title)) / 2
	b.WriteString(ruleLight)
	b.WriteString(strings.Repeat(" ", max(0, pad)) + title + "\n")
	b.WriteString(ruleLight + "\n")
}

// perStreamTable renders one row per stream id.
func perStreamTable(r Report) string {
	var b strings.Builder

	table := tablewriter.NewWriter(&b)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Stream", "Chunks", "Bytes", "Active", "Avg Rate"})
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
	})

	for _, id := range r.StreamIDs() {
		c := r.PerStream[id]
		rate := "ghost"
		if v, ok := r.PerStreamAvgMbps[id]; ok {
			rate = FormatMbps(v)
		}
		table.Append([]string{
			id,
			strconv.Itoa(c.Chunks),
			FormatBytes(c.Bytes),
			fmt.Sprintf("%.1fs", c.ActiveSeconds()),
			rate,
		})
	}

	table.Render()
	return b.String()
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatBytes formats bytes with SI suffixes.
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// FormatMbps formats a rate given in Mbps with an SI prefix.
func FormatMbps(mbps float64) string {
	return humanize.SIWithDigits(mbps*1e6, 2, "bps")
}
