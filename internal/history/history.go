// Package history keeps a bounded window of received samples with running
// min/peak/avg statistics and a count of threshold crossings.
package history

import (
	"math"
	"time"

	"github.com/luki/simtemp/internal/sample"
)

// Point is one received sample plus the wall time it arrived.
type Point struct {
	TempMC int32
	Flags  sample.Flags
	Time   time.Time
}

// Celsius returns the temperature in degrees.
func (p Point) Celsius() float64 { return float64(p.TempMC) / 1000 }

// Crossed reports whether the sample was flagged as a threshold crossing.
func (p Point) Crossed() bool { return p.Flags.Has(sample.FlagThresholdCrossed) }

// Buffer stores a sliding window of points. Min, Peak and Crossings cover
// every point ever pushed, not just the window.
type Buffer struct {
	Points    []Point
	Max       int // capacity
	Min       int32
	Peak      int32
	Crossings int
	Total     int
}

// NewBuffer creates a history window with the given capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{
		Points: make([]Point, 0, capacity),
		Max:    capacity,
		Min:    math.MaxInt32,
		Peak:   math.MinInt32,
	}
}

// Push records a sample received at t.
func (b *Buffer) Push(s sample.Sample, t time.Time) {
	p := Point{TempMC: s.TempMC, Flags: s.Flags, Time: t}
	if len(b.Points) >= b.Max {
		copy(b.Points, b.Points[1:])
		b.Points[len(b.Points)-1] = p
	} else {
		b.Points = append(b.Points, p)
	}

	b.Total++
	if p.Crossed() {
		b.Crossings++
	}
	if s.TempMC < b.Min {
		b.Min = s.TempMC
	}
	if s.TempMC > b.Peak {
		b.Peak = s.TempMC
	}
}

// Len returns the number of points in the window.
func (b *Buffer) Len() int { return len(b.Points) }

// Last returns the most recent point, or false if empty.
func (b *Buffer) Last() (Point, bool) {
	if len(b.Points) == 0 {
		return Point{}, false
	}
	return b.Points[len(b.Points)-1], true
}

// Avg returns the mean temperature in degrees across the window.
func (b *Buffer) Avg() float64 {
	if len(b.Points) == 0 {
		return 0
	}
	var sum int64
	for _, p := range b.Points {
		sum += int64(p.TempMC)
	}
	return float64(sum) / float64(len(b.Points)) / 1000
}

// MinC and PeakC return the lifetime extremes in degrees, or 0 if empty.
func (b *Buffer) MinC() float64 {
	if b.Total == 0 {
		return 0
	}
	return float64(b.Min) / 1000
}

func (b *Buffer) PeakC() float64 {
	if b.Total == 0 {
		return 0
	}
	return float64(b.Peak) / 1000
}

// LastNPoints returns a copy of the last n points.
func (b *Buffer) LastNPoints(n int) []Point {
	if n <= 0 || len(b.Points) == 0 {
		return nil
	}
	start := len(b.Points) - n
	if start < 0 {
		start = 0
	}
	out := make([]Point, len(b.Points[start:]))
	copy(out, b.Points[start:])
	return out
}

// Reset empties the window and the lifetime statistics.
func (b *Buffer) Reset() {
	b.Points = b.Points[:0]
	b.Min = math.MaxInt32
	b.Peak = math.MinInt32
	b.Crossings = 0
	b.Total = 0
}
