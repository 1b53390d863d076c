package playback

import (
	"maps"
	"time"

	"github.com/randomizedcoder/go-abr-replay/internal/timeseries"
)

// Snapshot is a point-in-time copy of the live state for the sampler, the
// dashboard and the metrics collector.
type Snapshot struct {
	Elapsed      time.Duration
	ActiveIndex  int
	ActiveBase   string
	Streams      int
	Buffers      map[string]float64
	StallTime    float64
	Estimate     float64
	LastBitrate  float64
	TotalBytes   int64
	Completed    int
	Failed       int
	Aborted      int
	Swiped       int
	EstimatorRun int
}

// Snapshot copies the live counters at now.
func (s *State) Snapshot(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Elapsed:      now.Sub(s.start),
		ActiveIndex:  s.activeIdx,
		ActiveBase:   s.activeBase(),
		Streams:      len(s.order),
		Buffers:      maps.Clone(s.buffers),
		StallTime:    s.stallTime,
		Estimate:     s.estimator.Estimate(),
		TotalBytes:   s.totalBytes,
		Completed:    s.completed,
		Failed:       s.failed,
		Aborted:      s.aborted,
		Swiped:       s.swiped,
		EstimatorRun: s.estimator.Updates(),
	}
	if p, ok := s.rateSeries.Last(); ok {
		snap.LastBitrate = p.V
	}
	return snap
}

// Record is the complete history of a finished run, handed to the
// aggregator.
type Record struct {
	Start            time.Time
	End              time.Time
	TotalBytes       int64
	StallTime        float64
	Throughputs      []float64
	ThroughputSeries []timeseries.Point
	BufferSeries     []timeseries.Point
	BitrateSeries    []timeseries.Point
	PerStream        map[string]StreamCounters
	Completed        int
	Failed           int
	Aborted          int
	Swiped           int
}

// Record copies everything the aggregator needs. Call it after the workers
// and the clock have stopped.
func (s *State) Record(end time.Time) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	per := make(map[string]StreamCounters, len(s.perStream))
	for id, c := range s.perStream {
		per[id] = *c
	}

	return Record{
		Start:            s.start,
		End:              end,
		TotalBytes:       s.totalBytes,
		StallTime:        s.stallTime,
		Throughputs:      s.tpSeries.Values(),
		ThroughputSeries: s.tpSeries.Points(),
		BufferSeries:     s.bufSeries.Points(),
		BitrateSeries:    s.rateSeries.Points(),
		PerStream:        per,
		Completed:        s.completed,
		Failed:           s.failed,
		Aborted:          s.aborted,
		Swiped:           s.swiped,
	}
}
