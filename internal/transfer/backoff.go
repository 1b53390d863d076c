package transfer

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig controls how long Serve waits before calling Accept again
// after a temporary accept error such as EMFILE.
type BackoffConfig struct {
	Initial    time.Duration // wait after the first failed accept
	Max        time.Duration // ceiling while accepts keep failing
	Multiplier float64       // growth per consecutive failure
	JitterPct  float64       // total jitter width as a fraction of the wait
}

// DefaultBackoffConfig returns the accept retry timing used by NewServer.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    250 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 1.7,
		JitterPct:  0.4, // ±20% jitter
	}
}

// Backoff tracks consecutive accept failures for one listener. Not safe for
// concurrent use; the accept loop owns its instance.
type Backoff struct {
	config   BackoffConfig
	attempts int
	rng      *rand.Rand
}

// NewBackoff seeds the jitter source so tests get repeatable waits.
func NewBackoff(seed int64, cfg BackoffConfig) *Backoff {
	return &Backoff{
		config: cfg,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Next returns the wait before the next accept and counts the failure.
func (b *Backoff) Next() time.Duration {
	delay := b.Calculate()
	b.attempts++
	return delay
}

// Calculate returns the wait for the current failure count.
func (b *Backoff) Calculate() time.Duration {
	delay := float64(b.config.Initial) * math.Pow(b.config.Multiplier, float64(b.attempts))

	if delay > float64(b.config.Max) {
		delay = float64(b.config.Max)
	}

	// Spread retries of listeners that hit the fd limit together.
	if b.config.JitterPct > 0 {
		jitterRange := delay * b.config.JitterPct
		delay += jitterRange*b.rng.Float64() - jitterRange/2
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// Reset is called after a successful accept.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the number of consecutive failed accepts.
func (b *Backoff) Attempts() int {
	return b.attempts
}
