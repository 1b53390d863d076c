package timeseries

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ringBufferSize retains two minutes of samples at the 500ms sampler rate.
	ringBufferSize = 240

	windowShort  = 1 * time.Second
	windowMedium = 5 * time.Second
	windowLong   = 30 * time.Second
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type sample struct {
	timestamp time.Time
	bytes     int64
}

// ThroughputTracker tracks cumulative bytes received across all stream
// workers and computes rolling rates for the dashboard and metrics.
//
//	tracker := NewThroughputTracker()
//	tracker.AddBytes(n)    // per completed chunk, lock-free
//	tracker.RecordSample() // from the periodic sampler
//	rates := tracker.GetRates()
type ThroughputTracker struct {
	totalBytes atomic.Int64

	samples  []sample
	writeIdx int
	mu       sync.RWMutex

	startTime time.Time
	clock     Clock
}

// Rates is a snapshot of rolling throughput in Mbps.
type Rates struct {
	TotalBytes int64

	Last1s  float64
	Last5s  float64
	Last30s float64
	Overall float64
}

// NewThroughputTracker creates a tracker on the wall clock.
func NewThroughputTracker() *ThroughputTracker {
	return NewThroughputTrackerWithClock(realClock{})
}

// NewThroughputTrackerWithClock creates a tracker with a custom clock.
func NewThroughputTrackerWithClock(clock Clock) *ThroughputTracker {
	now := clock.Now()
	t := &ThroughputTracker{
		samples:   make([]sample, 0, ringBufferSize),
		startTime: now,
		clock:     clock,
	}
	t.samples = append(t.samples, sample{timestamp: now})
	return t
}

// AddBytes adds received bytes. Non-positive values are ignored.
func (t *ThroughputTracker) AddBytes(n int64) {
	if n > 0 {
		t.totalBytes.Add(n)
	}
}

// RecordSample snapshots the cumulative byte count.
func (t *ThroughputTracker) RecordSample() {
	now := t.clock.Now()
	current := t.totalBytes.Load()

	t.mu.Lock()
	defer t.mu.Unlock()

	s := sample{timestamp: now, bytes: current}
	if len(t.samples) < ringBufferSize {
		t.samples = append(t.samples, s)
		return
	}
	t.samples[t.writeIdx] = s
	t.writeIdx = (t.writeIdx + 1) % ringBufferSize
}

// GetRates computes rolling rates from the retained samples.
func (t *ThroughputTracker) GetRates() Rates {
	now := t.clock.Now()
	current := t.totalBytes.Load()

	t.mu.RLock()
	defer t.mu.RUnlock()

	r := Rates{TotalBytes: current}
	if elapsed := now.Sub(t.startTime).Seconds(); elapsed > 0 {
		r.Overall = toMbps(float64(current) / elapsed)
	}
	r.Last1s = toMbps(t.rateOver(now, current, windowShort))
	r.Last5s = toMbps(t.rateOver(now, current, windowMedium))
	r.Last30s = toMbps(t.rateOver(now, current, windowLong))
	return r
}

// rateOver returns bytes/sec since the newest sample at or before now-window,
// falling back to the oldest retained sample. Caller holds mu.
func (t *ThroughputTracker) rateOver(now time.Time, current int64, window time.Duration) float64 {
	target := now.Add(-window)

	var best *sample
	for i := range t.samples {
		s := &t.samples[i]
		if s.timestamp.After(target) {
			continue
		}
		if best == nil || s.timestamp.After(best.timestamp) {
			best = s
		}
	}
	if best == nil {
		best = t.oldest()
	}
	if best == nil {
		return 0
	}

	elapsed := now.Sub(best.timestamp).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(current-best.bytes) / elapsed
}

// oldest returns the oldest retained sample. Caller holds mu.
func (t *ThroughputTracker) oldest() *sample {
	if len(t.samples) == 0 {
		return nil
	}
	if len(t.samples) < ringBufferSize {
		return &t.samples[0]
	}
	return &t.samples[t.writeIdx]
}

// SampleCount returns the number of retained samples.
func (t *ThroughputTracker) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}

func toMbps(bytesPerSec float64) float64 {
	return bytesPerSec * 8 / 1e6
}
