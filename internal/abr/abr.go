// Package abr holds the bitrate ladder and the per-chunk bitrate decision.
package abr

// Rung is one quality level of the ladder.
type Rung struct {
	Mbps  float64
	Label string
}

// Ladder is an ascending list of rungs. The first rung is the floor.
type Ladder []Rung

// DefaultLadder is the fixed ladder used by the replay client.
var DefaultLadder = Ladder{
	{Mbps: 0.5, Label: "240p"},
	{Mbps: 1.0, Label: "360p"},
	{Mbps: 2.5, Label: "720p"},
	{Mbps: 5.0, Label: "1080p"},
	{Mbps: 8.0, Label: "1440p"},
}

// Lowest returns the floor rung.
func (l Ladder) Lowest() Rung {
	if len(l) == 0 {
		return Rung{}
	}
	return l[0]
}

// Select returns the highest rung not exceeding target, or the floor.
func (l Ladder) Select(target float64) Rung {
	selected := l.Lowest()
	for _, r := range l {
		if r.Mbps > target {
			break
		}
		selected = r
	}
	return selected
}

// Label returns the label of the rung with exactly mbps, or "".
func (l Ladder) Label(mbps float64) string {
	for _, r := range l {
		if r.Mbps == mbps {
			return r.Label
		}
	}
	return ""
}

// Policy holds the decision thresholds.
type Policy struct {
	Ladder Ladder

	// ActiveHeadroom scales the estimate for the on-screen stream.
	ActiveHeadroom float64

	// LowBuffer is the on-screen buffer (s) under which ActivePanic applies.
	LowBuffer   float64
	ActivePanic float64

	// PanicThreshold is the on-screen buffer (s) under which background
	// streams are forced to the floor rung.
	PanicThreshold float64

	// BackgroundHeadroom scales the estimate for prefetching streams.
	BackgroundHeadroom float64
}

// DefaultPolicy returns the stock decision thresholds.
func DefaultPolicy() Policy {
	return Policy{
		Ladder:             DefaultLadder,
		ActiveHeadroom:     0.9,
		LowBuffer:          5.0,
		ActivePanic:        0.5,
		PanicThreshold:     5.0,
		BackgroundHeadroom: 0.5,
	}
}

// Input is the read-only view the decision needs.
type Input struct {
	// Active reports whether the querying stream is on screen.
	Active bool

	// OwnBuffer is the querying stream's buffered seconds.
	OwnBuffer float64

	// ActiveBuffer is the on-screen stream's buffered seconds.
	ActiveBuffer float64

	// Estimate is the shared bandwidth estimate in Mbps.
	Estimate float64
}

// Decide maps the inputs to a rung. It has no side effects.
func (p Policy) Decide(in Input) Rung {
	if in.Active {
		target := in.Estimate * p.ActiveHeadroom
		if in.OwnBuffer < p.LowBuffer {
			target = in.Estimate * p.ActivePanic
		}
		return p.Ladder.Select(target)
	}

	// Protect the stream the viewer is actually watching.
	if in.ActiveBuffer < p.PanicThreshold {
		return p.Ladder.Lowest()
	}
	return p.Ladder.Select(in.Estimate * p.BackgroundHeadroom)
}
