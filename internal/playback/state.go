// Package playback owns the shared simulation state of one replay run and the
// clock that plays it out.
//
// Every field of State is read and written only under State.mu. Workers block
// on a condition variable bound to that mutex; the clock broadcasts on every
// tick and workers broadcast when they credit a buffer, so a waiting worker
// re-evaluates its gate whenever something it depends on may have changed.
package playback

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/randomizedcoder/go-abr-replay/internal/estimator"
	"github.com/randomizedcoder/go-abr-replay/internal/timeseries"
)

// minTransferSeconds guards throughput against near-zero transfer durations.
const minTransferSeconds = 1e-6

// StreamCounters tracks bytes and completion times per stream id.
type StreamCounters struct {
	Bytes  int64
	Chunks int
	First  time.Time
	Last   time.Time
}

// ActiveSeconds is the span between the first and last completed chunk.
func (c StreamCounters) ActiveSeconds() float64 {
	if c.First.IsZero() {
		return 0
	}
	return c.Last.Sub(c.First).Seconds()
}

// StreamView is what a worker sees of the state at one instant.
type StreamView struct {
	Index        int
	ActiveIndex  int
	Buffer       float64
	ActiveBuffer float64
	Estimate     float64
	Stopped      bool
}

// Active reports whether the viewing stream is on screen.
func (v StreamView) Active() bool {
	return v.Index == v.ActiveIndex
}

// Behind reports whether the viewing stream has been swiped past.
func (v StreamView) Behind() bool {
	return v.Index < v.ActiveIndex
}

// Chunk is the outcome of one worker transfer, applied by Complete.
type Chunk struct {
	StreamID    string
	BaseID      string
	DurationSec float64
	BitrateMbps float64
	Expected    int64
	Received    int64
	Elapsed     time.Duration
	At          time.Time
}

// ThroughputMbps is the observed rate of the transfer.
func (c Chunk) ThroughputMbps() float64 {
	dt := math.Max(minTransferSeconds, c.Elapsed.Seconds())
	return float64(c.Received) * 8 / (dt * 1e6)
}

// Config describes the logical streams of a run.
type Config struct {
	// Order is the unique base ids in play order.
	Order []string

	// StartSec maps base id to the simulated time it becomes active.
	StartSec map[string]float64

	Estimator estimator.Config
}

// State is the single shared record of a replay run.
type State struct {
	mu   sync.Mutex
	cond *sync.Cond

	start    time.Time
	order    []string
	startSec map[string]float64

	buffers   map[string]float64
	activeIdx int
	stallTime float64
	estimator *estimator.Estimator

	totalBytes int64
	tpSeries   *timeseries.Series
	bufSeries  *timeseries.Series
	rateSeries *timeseries.Series
	perStream  map[string]*StreamCounters

	completed int
	failed    int
	aborted   int
	swiped    int

	watchers map[int][]context.CancelFunc
	stopped  bool
}

// NewState creates the state for a run starting at start.
func NewState(cfg Config, start time.Time) *State {
	startSec := make(map[string]float64, len(cfg.StartSec))
	for k, v := range cfg.StartSec {
		startSec[k] = v
	}

	s := &State{
		start:      start,
		order:      append([]string(nil), cfg.Order...),
		startSec:   startSec,
		buffers:    make(map[string]float64),
		estimator:  estimator.New(cfg.Estimator),
		tpSeries:   timeseries.NewSeries(256),
		bufSeries:  timeseries.NewSeries(1024),
		rateSeries: timeseries.NewSeries(256),
		perStream:  make(map[string]*StreamCounters),
		watchers:   make(map[int][]context.CancelFunc),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start returns the run's start time.
func (s *State) Start() time.Time {
	return s.start
}

// StreamCount returns the number of logical streams.
func (s *State) StreamCount() int {
	return len(s.order)
}

// IndexOf returns the play-order position of base, or -1.
func (s *State) IndexOf(base string) int {
	for i, b := range s.order {
		if b == base {
			return i
		}
	}
	return -1
}

// activeBase returns the on-screen base id. Caller holds mu.
func (s *State) activeBase() string {
	if s.activeIdx < len(s.order) {
		return s.order[s.activeIdx]
	}
	return ""
}

// view builds a StreamView. Caller holds mu.
func (s *State) view(idx int, base string) StreamView {
	return StreamView{
		Index:        idx,
		ActiveIndex:  s.activeIdx,
		Buffer:       s.buffers[base],
		ActiveBuffer: s.buffers[s.activeBase()],
		Estimate:     s.estimator.Estimate(),
		Stopped:      s.stopped,
	}
}

// View returns an atomic snapshot for the stream at idx.
func (s *State) View(idx int, base string) StreamView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(idx, base)
}

// WaitUntil blocks until ready returns true for the stream's view, the state
// is stopped, or ctx is done. ready runs under the state lock and must not
// block.
func (s *State) WaitUntil(ctx context.Context, idx int, base string, ready func(StreamView) bool) (StreamView, error) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		v := s.view(idx, base)
		if ready(v) || v.Stopped {
			return v, nil
		}
		if err := ctx.Err(); err != nil {
			return v, err
		}
		s.cond.Wait()
	}
}

// Watch registers cancel to fire once the stream at idx falls behind the
// active stream. It fires immediately if that has already happened. The
// returned func unregisters it.
func (s *State) Watch(idx int, cancel context.CancelFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx < s.activeIdx {
		cancel()
		return func() {}
	}
	s.watchers[idx] = append(s.watchers[idx], cancel)
	slot := len(s.watchers[idx]) - 1

	var done bool
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if done {
			return
		}
		done = true
		w := s.watchers[idx]
		if slot >= len(w) {
			return
		}
		w[slot] = nil
		// Only trailing slots are reclaimed; live closures hold their indexes.
		n := len(w)
		for n > 0 && w[n-1] == nil {
			n--
		}
		if n == 0 {
			delete(s.watchers, idx)
			return
		}
		s.watchers[idx] = w[:n]
	}
}

// Tick advances simulated playback by delta seconds at wall time now.
//
// At most one stream boundary is crossed per tick. The active buffer drains
// by delta (floored at zero); if it was already empty the tick counts as
// stall time. A buffer sample is appended every tick.
func (s *State) Tick(now time.Time, delta float64) {
	if delta < 0 {
		delta = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sim := now.Sub(s.start).Seconds()

	if next := s.activeIdx + 1; next < len(s.order) {
		if start, ok := s.startSec[s.order[next]]; ok && sim >= start {
			s.activeIdx = next
			s.cancelBehind()
		}
	}

	active := s.activeBase()
	if buf := s.buffers[active]; buf > 0 {
		s.buffers[active] = math.Max(0, buf-delta)
	} else {
		s.stallTime += delta
	}
	s.bufSeries.Append(sim, s.buffers[active])

	s.cond.Broadcast()
}

// cancelBehind fires the watchers of every stream behind the active one.
// Caller holds mu.
func (s *State) cancelBehind() {
	for idx, cancels := range s.watchers {
		if idx >= s.activeIdx {
			continue
		}
		for _, cancel := range cancels {
			if cancel != nil {
				cancel()
			}
		}
		delete(s.watchers, idx)
	}
}

// Complete applies a finished transfer. Zero-byte transfers only count as
// failures; everything else credits playback time in proportion to the bytes
// received and feeds the estimator. Returns the throughput sample.
func (s *State) Complete(c Chunk) float64 {
	tp := c.ThroughputMbps()

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Received <= 0 {
		s.failed++
		return 0
	}

	sim := c.At.Sub(s.start).Seconds()

	s.totalBytes += c.Received
	s.tpSeries.Append(sim, tp)
	s.rateSeries.Append(sim, c.BitrateMbps)

	frac := float64(c.Received) / float64(max(1, c.Expected))
	s.buffers[c.BaseID] += c.DurationSec * frac

	counters, ok := s.perStream[c.StreamID]
	if !ok {
		counters = &StreamCounters{First: c.At}
		s.perStream[c.StreamID] = counters
	}
	counters.Bytes += c.Received
	counters.Chunks++
	counters.Last = c.At

	s.estimator.Update(estimator.Input{
		SampleMbps:   tp,
		ActiveBuffer: s.buffers[s.activeBase()],
		StallTime:    s.stallTime,
	})

	s.completed++
	s.cond.Broadcast()
	return tp
}

// RecordAbort counts a transfer abandoned because its stream was swiped past.
func (s *State) RecordAbort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted++
}

// RecordSwipe counts a worker that terminated because it fell behind.
func (s *State) RecordSwipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swiped++
}

// Stop releases every waiter. Further waits return immediately.
func (s *State) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.cond.Broadcast()
}
