// Package estimator converts per-chunk throughput samples into the smoothed,
// buffer-aware bandwidth estimate that drives bitrate decisions.
//
// The estimator is a heuristic, not a congestion controller:
//
//	sample -> sliding window floor
//	       -> EWMA (factor chosen by buffer health)
//	       -> 50/50 blend of EWMA and floor
//	       -> buffer risk multiplier
//	       -> stall clamp (0.8x latest sample)
//	       -> absolute clamp [Min, Max]
//
// Estimator is not safe for concurrent use; callers hold the simulation lock.
package estimator

import (
	"math"

	"github.com/gammazero/deque"
)

// Band maps a buffer level upper bound (exclusive) to a value.
type Band struct {
	Below float64
	Value float64
}

// Config holds the tuning constants. They have no derivation beyond
// experimentation and are kept configurable rather than re-tuned.
type Config struct {
	// WindowLen is the capacity of the throughput sample window.
	WindowLen int

	// Initial is the estimate before any sample (Mbps).
	Initial float64

	// Alphas selects the EWMA factor from the active buffer; AlphaDefault
	// applies above the last band.
	Alphas       []Band
	AlphaDefault float64

	// FloorWeight is the weight of the window minimum in the blend.
	FloorWeight float64

	// Risks selects the multiplier from the active buffer; RiskDefault
	// applies above the last band.
	Risks       []Band
	RiskDefault float64

	// StallClamp caps the estimate at StallClamp x latest sample after a new stall.
	StallClamp float64

	// Min and Max bound the final estimate (Mbps).
	Min float64
	Max float64
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		WindowLen: 10,
		Initial:   2.5,
		Alphas: []Band{
			{Below: 3.0, Value: 0.10},
			{Below: 10.0, Value: 0.20},
		},
		AlphaDefault: 0.30,
		FloorWeight:  0.5,
		Risks: []Band{
			{Below: 2.0, Value: 0.7},
			{Below: 5.0, Value: 0.85},
			{Below: 12.0, Value: 1.0},
		},
		RiskDefault: 1.1,
		StallClamp:  0.8,
		Min:         0.1,
		Max:         100.0,
	}
}

// Input is everything one update needs besides the sample itself.
type Input struct {
	// SampleMbps is the observed throughput of the chunk just completed.
	SampleMbps float64

	// ActiveBuffer is the active stream's buffered seconds.
	ActiveBuffer float64

	// StallTime is the cumulative stall time so far; an increase since the
	// previous update counts as a new stall.
	StallTime float64
}

// Estimator holds the window and the current estimate.
type Estimator struct {
	cfg           Config
	window        deque.Deque[float64]
	estimate      float64
	lastStallTime float64
	updates       int
}

// New creates an estimator seeded with cfg.Initial.
func New(cfg Config) *Estimator {
	if cfg.WindowLen <= 0 {
		cfg.WindowLen = 1
	}
	return &Estimator{
		cfg:      cfg,
		estimate: cfg.Initial,
	}
}

// Estimate returns the current bandwidth estimate in Mbps.
func (e *Estimator) Estimate() float64 {
	return e.estimate
}

// Updates returns how many samples have been applied.
func (e *Estimator) Updates() int {
	return e.updates
}

// Window returns a copy of the current samples, oldest first.
func (e *Estimator) Window() []float64 {
	out := make([]float64, e.window.Len())
	for i := range out {
		out[i] = e.window.At(i)
	}
	return out
}

// Update applies one sample and returns the new estimate.
func (e *Estimator) Update(in Input) float64 {
	sample := in.SampleMbps
	if math.IsNaN(sample) || math.IsInf(sample, 0) || sample < 0 {
		sample = 0
	}

	e.window.PushBack(sample)
	for e.window.Len() > e.cfg.WindowLen {
		e.window.PopFront()
	}
	floor := e.floor()

	alpha := pick(e.cfg.Alphas, e.cfg.AlphaDefault, in.ActiveBuffer)
	ewma := (1-alpha)*e.estimate + alpha*sample

	blended := (1-e.cfg.FloorWeight)*ewma + e.cfg.FloorWeight*floor
	est := blended * pick(e.cfg.Risks, e.cfg.RiskDefault, in.ActiveBuffer)

	if in.StallTime > e.lastStallTime {
		est = math.Min(est, sample*e.cfg.StallClamp)
		e.lastStallTime = in.StallTime
	}

	e.estimate = math.Max(e.cfg.Min, math.Min(est, e.cfg.Max))
	e.updates++
	return e.estimate
}

func (e *Estimator) floor() float64 {
	floor := math.Inf(1)
	for i := 0; i < e.window.Len(); i++ {
		floor = math.Min(floor, e.window.At(i))
	}
	return floor
}

// pick returns the value of the first band whose bound exceeds level.
func pick(bands []Band, fallback, level float64) float64 {
	for _, b := range bands {
		if level < b.Below {
			return b.Value
		}
	}
	return fallback
}
