// Package orchestrator runs one replay: it starts a stream worker per schedule
// entry, drives the playback clock and sampler alongside them, and assembles
// the report once every worker has finished.
package orchestrator

import (
	"context"
	"math/rand"
	"time"
)

// JitterSource provides deterministic, per-worker jitter values.
// The same seed and worker index always produce the same offset, so two runs
// with one seed start workers on the same timetable.
type JitterSource struct {
	seed int64
}

// NewJitterSource creates a jitter source with the given seed.
func NewJitterSource(seed int64) *JitterSource {
	return &JitterSource{seed: seed}
}

// NewJitterSourceFromTime creates a jitter source seeded from the current time.
func NewJitterSourceFromTime() *JitterSource {
	return NewJitterSource(time.Now().UnixNano())
}

// WorkerJitter returns a jitter duration for worker n within [0, max).
func (j *JitterSource) WorkerJitter(n int, max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	rng := rand.New(rand.NewSource(int64(n) ^ j.seed))
	return time.Duration(rng.Int63n(int64(max)))
}

// Stagger spaces out worker starts so they do not all dial at once.
type Stagger struct {
	interval  time.Duration
	maxJitter time.Duration
	jitter    *JitterSource
}

// NewStagger creates a stagger with a time-based jitter seed.
func NewStagger(interval, maxJitter time.Duration) *Stagger {
	return &Stagger{
		interval:  interval,
		maxJitter: maxJitter,
		jitter:    NewJitterSourceFromTime(),
	}
}

// NewStaggerWithSeed creates a stagger with a fixed seed for reproducibility.
func NewStaggerWithSeed(interval, maxJitter time.Duration, seed int64) *Stagger {
	return &Stagger{
		interval:  interval,
		maxJitter: maxJitter,
		jitter:    NewJitterSource(seed),
	}
}

// Delay returns the pause taken after starting worker n.
func (s *Stagger) Delay(n int) time.Duration {
	return s.interval + s.jitter.WorkerJitter(n, s.maxJitter)
}

// Wait pauses after starting worker n. Returns the context error if
// cancelled first.
func (s *Stagger) Wait(ctx context.Context, n int) error {
	d := s.Delay(n)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// EstimatedDuration returns the expected time to start n workers.
func (s *Stagger) EstimatedDuration(n int) time.Duration {
	return time.Duration(n) * (s.interval + s.maxJitter/2)
}
