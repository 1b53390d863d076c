package playback

import (
	"log/slog"
	"time"

	"github.com/frostbyte73/core"
)

// DefaultTickInterval is the playback clock period.
const DefaultTickInterval = 100 * time.Millisecond

// Clock drives State.Tick on a fixed period until stopped.
type Clock struct {
	state    *State
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	stop core.Fuse
	done core.Fuse
}

// NewClock creates a clock for state. A non-positive interval uses
// DefaultTickInterval.
func NewClock(state *State, interval time.Duration, logger *slog.Logger) *Clock {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Clock{
		state:    state,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Run ticks until Stop is called. Each tick drains by the real time elapsed
// since the previous one.
func (c *Clock) Run() {
	defer c.done.Break()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	last := c.now()
	ticks := 0
	for {
		select {
		case <-c.stop.Watch():
			c.logger.Debug("playback_clock_stopped", "ticks", ticks)
			return
		case <-ticker.C:
			now := c.now()
			c.state.Tick(now, now.Sub(last).Seconds())
			last = now
			ticks++
		}
	}
}

// Stop signals the clock and waits up to grace for it to exit. It reports
// whether the clock exited in time.
func (c *Clock) Stop(grace time.Duration) bool {
	c.stop.Break()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-c.done.Watch():
		return true
	case <-timer.C:
		c.logger.Warn("playback_clock_stop_timeout", "grace", grace)
		return false
	}
}

// Done is closed once Run has returned.
func (c *Clock) Done() <-chan struct{} {
	return c.done.Watch()
}
