// Package stats derives the replay report from a finished run and formats
// the exit summary.
package stats

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-abr-replay/internal/playback"
	"github.com/randomizedcoder/go-abr-replay/internal/timeseries"
)

// ResultPrefix marks the single stdout line the experiment harness parses.
const ResultPrefix = "JSON_RESULT:"

// Ghost stream thresholds. A stream below either one never really played
// and is left out of per-stream rates and fairness.
const (
	MinActiveSeconds = 0.1
	MinStreamBytes   = 1000
)

// minDurationSeconds guards the averages against a zero-length run.
const minDurationSeconds = 1e-6

// Report is the outcome of one replay run.
type Report struct {
	AvgThroughputMbps      float64            `json:"avg_throughput_mbps"`
	AvgBitrateSelectedMbps float64            `json:"avg_bitrate_selected_mbps"`
	JitterMbps             float64            `json:"jitter_mbps"`
	RebufferingRatio       float64            `json:"rebuffering_ratio"`
	TotalStalls            float64            `json:"total_stalls"`
	FairnessIndex          *float64           `json:"fairness_index"`
	PerStreamAvgMbps       map[string]float64 `json:"per_stream_avg_throughput_mbps"`
	ThroughputTimeseries   []timeseries.Point `json:"throughput_timeseries"`
	BufferTimeseries       []timeseries.Point `json:"buffer_timeseries"`
	BitrateTimeseries      []timeseries.Point `json:"bitrate_timeseries"`

	DurationSec       float64        `json:"duration_sec"`
	TotalBytes        int64          `json:"total_bytes"`
	ChunksCompleted   int            `json:"chunks_completed"`
	ChunksFailed      int            `json:"chunks_failed"`
	ChunksAborted     int            `json:"chunks_aborted"`
	WorkersSwiped     int            `json:"workers_swiped"`
	ThroughputP50Mbps float64        `json:"throughput_p50_mbps"`
	ThroughputP95Mbps float64        `json:"throughput_p95_mbps"`
	ThroughputP99Mbps float64        `json:"throughput_p99_mbps"`
	TransferErrors    map[string]int `json:"transfer_errors"`

	// PerStream keeps the raw counters behind PerStreamAvgMbps for the
	// exit summary. Not part of the JSON report.
	PerStream map[string]playback.StreamCounters `json:"-"`
}

// Aggregate computes the report from a finished run. errs maps failure
// class to count and may be nil.
func Aggregate(rec playback.Record, errs map[string]int) Report {
	duration := math.Max(minDurationSeconds, rec.End.Sub(rec.Start).Seconds())

	r := Report{
		AvgThroughputMbps:      float64(rec.TotalBytes) * 8 / (duration * 1e6),
		AvgBitrateSelectedMbps: timeseries.FromPoints(rec.BitrateSeries).Mean(),
		JitterMbps:             StdDev(rec.Throughputs),
		RebufferingRatio:       rec.StallTime / duration,
		TotalStalls:            rec.StallTime,
		PerStreamAvgMbps:       PerStreamRates(rec.PerStream),
		ThroughputTimeseries:   nonNil(rec.ThroughputSeries),
		BufferTimeseries:       nonNil(rec.BufferSeries),
		BitrateTimeseries:      nonNil(rec.BitrateSeries),

		DurationSec:     duration,
		TotalBytes:      rec.TotalBytes,
		ChunksCompleted: rec.Completed,
		ChunksFailed:    rec.Failed,
		ChunksAborted:   rec.Aborted,
		WorkersSwiped:   rec.Swiped,
		TransferErrors:  make(map[string]int, len(errs)),
		PerStream:       rec.PerStream,
	}
	for k, v := range errs {
		r.TransferErrors[k] = v
	}

	rates := make([]float64, 0, len(r.PerStreamAvgMbps))
	for _, v := range r.PerStreamAvgMbps {
		rates = append(rates, v)
	}
	r.FairnessIndex = JainIndex(rates)

	if len(rec.Throughputs) > 0 {
		td := tdigest.NewWithCompression(100)
		for _, tp := range rec.Throughputs {
			td.Add(tp, 1)
		}
		r.ThroughputP50Mbps = td.Quantile(0.50)
		r.ThroughputP95Mbps = td.Quantile(0.95)
		r.ThroughputP99Mbps = td.Quantile(0.99)
	}

	return r
}

// PerStreamRates returns the average throughput (Mbps) of every stream that
// passes the ghost filter.
func PerStreamRates(per map[string]playback.StreamCounters) map[string]float64 {
	out := make(map[string]float64, len(per))
	for id, c := range per {
		dur := c.ActiveSeconds()
		if dur > MinActiveSeconds && c.Bytes > MinStreamBytes {
			out[id] = float64(c.Bytes) * 8 / (dur * 1e6)
		}
	}
	return out
}

// JainIndex returns (Σr)² / (n·Σr²). It is nil for no rates and 1 for one.
func JainIndex(rates []float64) *float64 {
	var f float64
	switch len(rates) {
	case 0:
		return nil
	case 1:
		f = 1
	default:
		var sum, sumSq float64
		for _, r := range rates {
			sum += r
			sumSq += r * r
		}
		if den := float64(len(rates)) * sumSq; den > 0 {
			f = sum * sum / den
		}
	}
	return &f
}

// StdDev is the population standard deviation, or 0 for fewer than two values.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// nonNil keeps empty series as [] rather than null in JSON.
func nonNil(pts []timeseries.Point) []timeseries.Point {
	if pts == nil {
		return []timeseries.Point{}
	}
	return pts
}

// ResultLine renders the report as the single JSON_RESULT line.
func (r Report) ResultLine() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}
	return ResultPrefix + string(data), nil
}

// WriteFile writes the report as indented JSON.
func (r Report) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// Duration returns the run length.
func (r Report) Duration() time.Duration {
	return time.Duration(r.DurationSec * float64(time.Second))
}

// StreamIDs returns the ids of every stream that completed a chunk, sorted.
func (r Report) StreamIDs() []string {
	ids := make([]string, 0, len(r.PerStream))
	for id := range r.PerStream {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
