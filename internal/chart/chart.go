// Package chart renders sparklines coloured against a single alert
// threshold, with crossing markers, minute ticks, timeline labels and a
// threshold scale bar.
package chart

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/luki/simtemp/internal/history"
)

// Default display range in degrees; covers every waveform with margin.
const (
	DefaultMin = 26.0
	DefaultMax = 54.0
)

// warmBand is how far below the threshold a value is shown as warm.
const warmBand = 1.5

var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

var (
	colorOk      = lipgloss.Color("78")
	colorWarm    = lipgloss.Color("220")
	colorAlert   = lipgloss.Color("196")
	colorCrossed = lipgloss.Color("213")
	colorTick    = lipgloss.Color("239")
	colorEmpty   = lipgloss.Color("236")
)

// TempColor returns the colour for v relative to threshold (both degrees).
func TempColor(v, threshold float64) lipgloss.Color {
	switch {
	case v >= threshold:
		return colorAlert
	case v >= threshold-warmBand:
		return colorWarm
	default:
		return colorOk
	}
}

// Range returns a display range that always includes the threshold and
// every point, padded by one degree.
func Range(points []history.Point, threshold float64) (lo, hi float64) {
	lo, hi = DefaultMin, DefaultMax
	for _, p := range points {
		lo = math.Min(lo, p.Celsius()-1)
		hi = math.Max(hi, p.Celsius()+1)
	}
	lo = math.Min(lo, threshold-1)
	hi = math.Max(hi, threshold+1)
	return lo, hi
}

// RenderSparkline renders bare values with no timestamps.
func RenderSparkline(values []float64, width int, rangeMin, rangeMax, threshold float64) string {
	if width <= 0 {
		return ""
	}
	pts := make([]history.Point, len(values))
	for i, v := range values {
		pts[i] = history.Point{TempMC: int32(math.Round(v * 1000))}
	}
	return RenderSparklinePoints(pts, width, rangeMin, rangeMax, threshold)
}

// RenderSparklinePoints renders one block per point, newest on the right.
// A subtle pipe is drawn at each minute boundary and crossing samples are
// highlighted.
func RenderSparklinePoints(points []history.Point, width int, rangeMin, rangeMax, threshold float64) string {
	if width <= 0 {
		return ""
	}

	dim := lipgloss.NewStyle().Foreground(colorEmpty)
	if len(points) == 0 {
		return dim.Render(strings.Repeat("╌", width))
	}

	if len(points) > width {
		points = points[len(points)-width:]
	}

	padLen := width - len(points)
	span := rangeMax - rangeMin
	if span <= 0 {
		span = 1
	}

	var sb strings.Builder
	for i := 0; i < padLen; i++ {
		sb.WriteString(dim.Render("╌"))
	}

	tickStyle := lipgloss.NewStyle().Foreground(colorTick)

	for i, p := range points {
		v := p.Celsius()
		norm := math.Max(0, math.Min(1, (v-rangeMin)/span))
		idx := min(int(norm*7), 7)

		switch {
		case p.Crossed():
			sb.WriteString(lipgloss.NewStyle().Foreground(colorCrossed).Bold(true).Render(string(sparkBlocks[idx])))
		case isMinuteTick(points, i):
			sb.WriteString(tickStyle.Render("│"))
		default:
			style := lipgloss.NewStyle().Foreground(TempColor(v, threshold))
			if v >= threshold {
				style = style.Bold(true)
			}
			sb.WriteString(style.Render(string(sparkBlocks[idx])))
		}
	}

	return sb.String()
}

func isMinuteTick(points []history.Point, i int) bool {
	p := points[i]
	if p.Time.IsZero() {
		return false
	}
	if p.Time.Second() == 0 && p.Time.Nanosecond() < 1e9/10 {
		return true
	}
	if i > 0 && !points[i-1].Time.IsZero() {
		return p.Time.Minute() != points[i-1].Time.Minute()
	}
	return false
}

// RenderTimeline renders HH:MM labels under the sparkline at each minute
// tick position.
func RenderTimeline(points []history.Point, width int) string {
	if len(points) == 0 || width <= 0 {
		return ""
	}

	if len(points) > width {
		points = points[len(points)-width:]
	}
	padLen := width - len(points)

	line := []rune(strings.Repeat(" ", width))
	lastEnd := -1
	for i, p := range points {
		if !isMinuteTick(points, i) {
			continue
		}
		label := p.Time.Format("15:04")
		start := max(padLen+i-2, 0)
		end := start + len(label)
		if end > width || start <= lastEnd+1 {
			continue
		}
		copy(line[start:], []rune(label))
		lastEnd = end
	}

	return lipgloss.NewStyle().Foreground(colorTick).Render(string(line))
}

// RenderThresholdScale renders a bar with the threshold marker and the
// current value's position.
func RenderThresholdScale(current, rangeMin, rangeMax, threshold float64, width int) string {
	if width <= 0 {
		return ""
	}

	span := rangeMax - rangeMin
	if span <= 0 {
		span = 1
	}
	pos := func(v float64) int {
		p := int(float64(width-1) * (v - rangeMin) / span)
		return max(0, min(width-1, p))
	}
	thPos := pos(threshold)
	curPos := pos(current)

	dot := lipgloss.NewStyle().Foreground(colorEmpty)
	mark := lipgloss.NewStyle().Foreground(colorAlert)
	cur := lipgloss.NewStyle().Foreground(TempColor(current, threshold)).Bold(true)

	var sb strings.Builder
	for i := 0; i < width; i++ {
		switch i {
		case curPos:
			sb.WriteString(cur.Render("◆"))
		case thPos:
			sb.WriteString(mark.Render("▪"))
		default:
			sb.WriteString(dot.Render("·"))
		}
	}
	return sb.String()
}

// RenderTempValue renders a temperature with colour coding.
func RenderTempValue(temp, threshold float64) string {
	style := lipgloss.NewStyle().Foreground(TempColor(temp, threshold))
	if temp >= threshold {
		style = style.Bold(true)
	}
	return style.Render(fmt.Sprintf("%6.2f°C", temp))
}
