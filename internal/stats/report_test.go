package stats

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomizedcoder/go-abr-replay/internal/playback"
	"github.com/randomizedcoder/go-abr-replay/internal/timeseries"
)

var start = time.Unix(1_700_000_000, 0)

func counters(bytes int64, first, last float64) playback.StreamCounters {
	return playback.StreamCounters{
		Bytes:  bytes,
		Chunks: 1,
		First:  start.Add(time.Duration(first * float64(time.Second))),
		Last:   start.Add(time.Duration(last * float64(time.Second))),
	}
}

func TestJainIndex(t *testing.T) {
	assert.Nil(t, JainIndex(nil), "no streams has no fairness")

	one := JainIndex([]float64{3.3})
	require.NotNil(t, one)
	assert.Equal(t, 1.0, *one)

	equal := JainIndex([]float64{2, 2, 2, 2})
	require.NotNil(t, equal)
	assert.InDelta(t, 1.0, *equal, 1e-12)

	// (1+3)^2 / (2 * (1+9)) = 0.8
	skewed := JainIndex([]float64{1, 3})
	require.NotNil(t, skewed)
	assert.InDelta(t, 0.8, *skewed, 1e-12)

	// One dominant flow among n tends to 1/n.
	dominant := JainIndex([]float64{100, 1e-9, 1e-9, 1e-9})
	require.NotNil(t, dominant)
	assert.Greater(t, *dominant, 0.0)
	assert.InDelta(t, 0.25, *dominant, 1e-6)

	zeros := JainIndex([]float64{0, 0})
	require.NotNil(t, zeros)
	assert.Equal(t, 0.0, *zeros)
}

func TestStdDev(t *testing.T) {
	assert.Equal(t, 0.0, StdDev(nil))
	assert.Equal(t, 0.0, StdDev([]float64{5}))
	// Population, not sample: {2,4,4,4,5,5,7,9} -> 2.
	assert.InDelta(t, 2.0, StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-12)
}

func TestPerStreamRates_GhostFilter(t *testing.T) {
	rates := PerStreamRates(map[string]playback.StreamCounters{
		"1":   counters(1_000_000, 0, 8),    // 1 Mbps
		"2_a": counters(1_000_000, 3, 3.05), // too short
		"3":   counters(900, 0, 10),         // too few bytes
		"4":   {Bytes: 5000},                // never timestamped
	})

	require.Len(t, rates, 1)
	assert.InDelta(t, 1.0, rates["1"], 1e-12)
}

func TestAggregate(t *testing.T) {
	rec := playback.Record{
		Start:       start,
		End:         start.Add(10 * time.Second),
		TotalBytes:  2_500_000,
		StallTime:   0.5,
		Throughputs: []float64{2, 4, 4, 4, 5, 5, 7, 9},
		ThroughputSeries: []timeseries.Point{
			{T: 1, V: 2}, {T: 2, V: 4},
		},
		BufferSeries:  []timeseries.Point{{T: 0.1, V: 0}},
		BitrateSeries: []timeseries.Point{{T: 1, V: 1}, {T: 2, V: 2.5}},
		PerStream: map[string]playback.StreamCounters{
			"1": counters(1_250_000, 0, 5),
			"2": counters(1_250_000, 5, 10),
		},
		Completed: 8,
		Failed:    1,
		Aborted:   2,
		Swiped:    1,
	}

	r := Aggregate(rec, map[string]int{"short_read": 1})

	assert.InDelta(t, 10.0, r.DurationSec, 1e-9)
	assert.InDelta(t, 2.0, r.AvgThroughputMbps, 1e-9)
	assert.InDelta(t, 1.75, r.AvgBitrateSelectedMbps, 1e-9)
	assert.InDelta(t, 2.0, r.JitterMbps, 1e-9)
	assert.InDelta(t, 0.05, r.RebufferingRatio, 1e-9)
	assert.Equal(t, 0.5, r.TotalStalls)

	require.NotNil(t, r.FairnessIndex)
	assert.InDelta(t, 1.0, *r.FairnessIndex, 1e-12)
	assert.Len(t, r.PerStreamAvgMbps, 2)

	assert.Equal(t, int64(2_500_000), r.TotalBytes)
	assert.Equal(t, 8, r.ChunksCompleted)
	assert.Equal(t, 1, r.ChunksFailed)
	assert.Equal(t, 2, r.ChunksAborted)
	assert.Equal(t, 1, r.WorkersSwiped)
	assert.Equal(t, map[string]int{"short_read": 1}, r.TransferErrors)

	assert.True(t, r.ThroughputP50Mbps >= 2 && r.ThroughputP50Mbps <= 9, "p50 = %v", r.ThroughputP50Mbps)
	assert.LessOrEqual(t, r.ThroughputP50Mbps, r.ThroughputP95Mbps)
	assert.LessOrEqual(t, r.ThroughputP95Mbps, r.ThroughputP99Mbps)
	assert.Equal(t, []string{"1", "2"}, r.StreamIDs())
}

func TestAggregate_EmptyRun(t *testing.T) {
	r := Aggregate(playback.Record{Start: start, End: start}, nil)

	assert.Nil(t, r.FairnessIndex)
	assert.False(t, math.IsInf(r.AvgThroughputMbps, 0) || math.IsNaN(r.AvgThroughputMbps))
	assert.Equal(t, 0.0, r.ThroughputP50Mbps)

	line, err := r.ResultLine()
	require.NoError(t, err)
	assert.Contains(t, line, `"fairness_index":null`)
	assert.Contains(t, line, `"throughput_timeseries":[]`)
}

func TestReport_ResultLine(t *testing.T) {
	r := Aggregate(playback.Record{
		Start:            start,
		End:              start.Add(2 * time.Second),
		ThroughputSeries: []timeseries.Point{{T: 0.5, V: 3}},
	}, nil)

	line, err := r.ResultLine()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, ResultPrefix))
	assert.NotContains(t, line, "\n")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, ResultPrefix)), &decoded))

	for _, key := range []string{
		"avg_throughput_mbps", "avg_bitrate_selected_mbps", "jitter_mbps",
		"rebuffering_ratio", "total_stalls", "fairness_index",
		"per_stream_avg_throughput_mbps", "throughput_timeseries",
		"buffer_timeseries", "bitrate_timeseries",
	} {
		assert.Contains(t, decoded, key)
	}
	assert.NotContains(t, decoded, "PerStream")
	assert.Equal(t, []any{[]any{0.5, 3.0}}, decoded["throughput_timeseries"])
}

func TestReport_WriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	r := Aggregate(playback.Record{Start: start, End: start.Add(time.Second), TotalBytes: 125_000}, nil)

	require.NoError(t, r.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var back Report
	require.NoError(t, json.Unmarshal(data, &back))
	assert.InDelta(t, 1.0, back.AvgThroughputMbps, 1e-9)
	assert.Equal(t, int64(125_000), back.TotalBytes)
}
