// Package timeseries provides the time-indexed logs and rolling rates used by
// the replay client.
//
// Series is an append-only log of (seconds since start, value) points used
// only for reporting; nothing reads it back into decisions.
// ThroughputTracker computes rolling byte rates for live display.
package timeseries

import (
	"encoding/json"
	"fmt"
)

// Point is one sample. It marshals as a two-element JSON array.
type Point struct {
	T float64
	V float64
}

// MarshalJSON encodes the point as [t, v].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.T, p.V})
}

// UnmarshalJSON decodes [t, v].
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("time series point: want 2 elements, got %d", len(pair))
	}
	p.T, p.V = pair[0], pair[1]
	return nil
}

// Series is an append-only sequence of points. Not safe for concurrent use;
// the owner serializes access.
type Series struct {
	points []Point
}

// NewSeries creates a series with room for capacity points.
func NewSeries(capacity int) *Series {
	return &Series{points: make([]Point, 0, capacity)}
}

// FromPoints wraps a copy of pts as a series.
func FromPoints(pts []Point) *Series {
	return &Series{points: append([]Point(nil), pts...)}
}

// Append adds a point.
func (s *Series) Append(t, v float64) {
	s.points = append(s.points, Point{T: t, V: v})
}

// Len returns the number of points.
func (s *Series) Len() int {
	return len(s.points)
}

// Last returns the newest point, if any.
func (s *Series) Last() (Point, bool) {
	if len(s.points) == 0 {
		return Point{}, false
	}
	return s.points[len(s.points)-1], true
}

// Points returns a copy of the points.
func (s *Series) Points() []Point {
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

// Values returns a copy of the values only.
func (s *Series) Values() []float64 {
	out := make([]float64, len(s.points))
	for i, p := range s.points {
		out[i] = p.V
	}
	return out
}

// Mean returns the average value, or 0 for an empty series.
func (s *Series) Mean() float64 {
	if len(s.points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range s.points {
		sum += p.V
	}
	return sum / float64(len(s.points))
}
