// Package viewer implements the recorded-sample browser TUI with time
// scrubbing, day navigation and sparkline windows.
package viewer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/luki/simtemp/internal/chart"
	"github.com/luki/simtemp/internal/history"
	"github.com/luki/simtemp/internal/store"
)

// ErrNoData is returned by Run when dir holds no recordings.
var ErrNoData = errors.New("no recorded samples")

// Run launches the viewer over the recordings in dir. threshold (degrees)
// is the alert level charts are coloured against.
func Run(dir string, threshold float64) error {
	if dir == "" {
		dir = store.DataDir()
	}
	days, err := store.ListDays(dir)
	if err != nil || len(days) == 0 {
		return fmt.Errorf("%w in %s", ErrNoData, dir)
	}

	p := tea.NewProgram(
		initModel(dir, days, threshold),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err = p.Run()
	return err
}

// ── Color palette ────────────────────────────────────────────────────

var (
	colorTitleBg  = lipgloss.Color("17")
	colorTitleFg  = lipgloss.Color("51")
	colorBorder   = lipgloss.Color("62")
	colorDevice   = lipgloss.Color("147")
	colorLabel    = lipgloss.Color("252")
	colorDim      = lipgloss.Color("240")
	colorFooterBg = lipgloss.Color("235")
	colorCrit     = lipgloss.Color("196")
	colorCursor   = lipgloss.Color("214")
)

const thresholdStep = 0.5

// ── Model ────────────────────────────────────────────────────────────

type model struct {
	dir       string
	days      []string // available dates, newest first
	dayIdx    int
	records   int
	devices   []string // sorted device ids
	cursor    int      // index into timeSlots
	scroll    int
	width     int
	height    int
	threshold float64
	err       error

	timeSlots []time.Time                // unique receipt times (sorted)
	series    map[string][]history.Point // device -> points sorted by time
}

func initModel(dir string, days []string, threshold float64) model {
	m := model{dir: dir, days: days, threshold: threshold}
	m.loadDay()
	return m
}

func (m *model) loadDay() {
	recs, err := store.LoadDay(m.dir, m.days[m.dayIdx])
	if err != nil {
		m.err = err
		m.records, m.devices, m.timeSlots, m.series = 0, nil, nil, nil
		return
	}
	m.err = nil
	m.records = len(recs)

	timeSet := make(map[int64]time.Time)
	series := make(map[string][]history.Point)
	for _, r := range recs {
		timeSet[r.Time.UnixMilli()] = r.Time
		series[r.Device] = append(series[r.Device], history.Point{
			TempMC: r.Sample.TempMC,
			Flags:  r.Sample.Flags,
			Time:   r.Time,
		})
	}

	m.devices = m.devices[:0]
	for dev, pts := range series {
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].Time.Before(pts[j].Time) })
		m.devices = append(m.devices, dev)
	}
	sort.Strings(m.devices)
	m.series = series

	times := make([]time.Time, 0, len(timeSet))
	for _, t := range timeSet {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	m.timeSlots = times

	m.cursor = max(len(m.timeSlots)-1, 0)
	m.scroll = 0
}

// ── Init / Update ────────────────────────────────────────────────────

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		last := len(m.timeSlots) - 1
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit

		case "left", "h":
			m.cursor = max(m.cursor-1, 0)
		case "right", "l":
			m.cursor = max(min(m.cursor+1, last), 0)
		case "shift+left", "H":
			m.cursor = max(m.cursor-60, 0)
		case "shift+right", "L":
			m.cursor = max(min(m.cursor+60, last), 0)
		case "home":
			m.cursor = 0
		case "end":
			m.cursor = max(last, 0)

		case "[":
			if m.dayIdx < len(m.days)-1 {
				m.dayIdx++
				m.loadDay()
			}
		case "]":
			if m.dayIdx > 0 {
				m.dayIdx--
				m.loadDay()
			}

		case "+", "=":
			m.threshold += thresholdStep
		case "-", "_":
			m.threshold -= thresholdStep

		case "up", "k":
			m.scroll = max(m.scroll-1, 0)
		case "down", "j":
			m.scroll++
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	}

	return m, nil
}

// ── View ─────────────────────────────────────────────────────────────

func (m model) View() string {
	if m.width == 0 {
		return "  Loading..."
	}

	contentWidth := max(m.width-2, 40)
	sections := []string{m.renderTitle(contentWidth)}

	if m.err != nil {
		sections = append(sections, lipgloss.NewStyle().
			Foreground(colorCrit).
			Bold(true).
			Padding(0, 1).
			Render(fmt.Sprintf("ERROR: %v", m.err)))
	}

	if len(m.timeSlots) == 0 {
		sections = append(sections, lipgloss.NewStyle().
			Foreground(colorDim).
			Padding(2, 0).
			Align(lipgloss.Center).
			Width(contentWidth).
			Render("No samples for this day."))
	} else {
		sections = append(sections, m.renderCursorInfo(contentWidth))
		sections = append(sections, m.renderPanels(contentWidth)...)
	}

	sections = append(sections, m.renderFooter(contentWidth))

	lines := strings.Split(lipgloss.JoinVertical(lipgloss.Left, sections...), "\n")
	visible := max(m.height, 5)
	start := min(m.scroll, max(len(lines)-visible, 0))
	end := min(start+visible, len(lines))
	return strings.Join(lines[start:end], "\n")
}

func (m model) renderTitle(width int) string {
	logo := lipgloss.NewStyle().
		Bold(true).
		Foreground(colorTitleFg).
		Render("SIMTEMP HISTORY")

	dayText := lipgloss.NewStyle().
		Foreground(colorCursor).
		Bold(true).
		Render(m.days[m.dayIdx])

	nav := lipgloss.NewStyle().
		Foreground(colorDim).
		Render(fmt.Sprintf("  [ %d/%d ]", m.dayIdx+1, len(m.days)))

	dataInfo := ""
	if len(m.timeSlots) > 0 {
		dataInfo = lipgloss.NewStyle().
			Foreground(colorDim).
			Render(fmt.Sprintf("  %s - %s  (%d samples, %d devices)",
				m.timeSlots[0].Format("15:04:05"),
				m.timeSlots[len(m.timeSlots)-1].Format("15:04:05"),
				m.records, len(m.devices)))
	}

	right := dayText + nav + dataInfo
	gap := max(width-lipgloss.Width(logo)-lipgloss.Width(right)-4, 1)

	return lipgloss.NewStyle().
		Background(colorTitleBg).
		Width(width).
		Padding(0, 1).
		Render(logo + strings.Repeat(" ", gap) + right)
}

func (m model) renderCursorInfo(width int) string {
	if m.cursor < 0 || m.cursor >= len(m.timeSlots) {
		return ""
	}

	ts := lipgloss.NewStyle().
		Foreground(colorCursor).
		Bold(true).
		Render(m.timeSlots[m.cursor].Format("15:04:05.000"))

	pos := lipgloss.NewStyle().
		Foreground(colorDim).
		Render(fmt.Sprintf("  %d/%d", m.cursor+1, len(m.timeSlots)))

	return lipgloss.NewStyle().
		Padding(0, 1).
		Render("  " + ts + pos + "  " + m.renderScrubber(max(width-36, 10)))
}

func (m model) renderScrubber(width int) string {
	if len(m.timeSlots) == 0 || width <= 0 {
		return ""
	}

	pos := 0
	if len(m.timeSlots) > 1 {
		pos = min(m.cursor*(width-1)/(len(m.timeSlots)-1), width-1)
	}

	dimS := lipgloss.NewStyle().Foreground(lipgloss.Color("237"))
	curS := lipgloss.NewStyle().Foreground(colorCursor).Bold(true)
	tickS := lipgloss.NewStyle().Foreground(lipgloss.Color("239"))

	var sb strings.Builder
	for i := 0; i < width; i++ {
		if i == pos {
			sb.WriteString(curS.Render("◆"))
			continue
		}
		slotIdx := 0
		if len(m.timeSlots) > 1 {
			slotIdx = i * (len(m.timeSlots) - 1) / (width - 1)
		}
		if slotIdx > 0 && m.timeSlots[slotIdx].Hour() != m.timeSlots[slotIdx-1].Hour() {
			sb.WriteString(tickS.Render("│"))
			continue
		}
		sb.WriteString(dimS.Render("─"))
	}
	return sb.String()
}

func (m model) renderPanels(totalWidth int) []string {
	if m.cursor < 0 || m.cursor >= len(m.timeSlots) {
		return nil
	}
	cursorTime := m.timeSlots[m.cursor]

	const labelW, tempW = 10, 9
	innerWidth := max(totalWidth-4, 30)
	chartWidth := min(max(innerWidth-labelW-tempW-44, 15), 160)

	dimS := lipgloss.NewStyle().Foreground(colorDim)
	valS := lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	frameL := lipgloss.NewStyle().Foreground(colorBorder).Render("▕")
	frameR := lipgloss.NewStyle().Foreground(colorBorder).Render("▏")

	var panels []string
	for _, dev := range m.devices {
		pts := m.series[dev]
		if len(pts) == 0 {
			continue
		}

		var rows []string
		rows = append(rows, lipgloss.NewStyle().Bold(true).Foreground(colorDevice).Render(dev))

		window := sparkWindow(pts, cursorTime, chartWidth)
		cur := pointAt(pts, cursorTime)
		lo, hi := chart.Range(pts, m.threshold)
		sum := summarize(pts)

		label := lipgloss.NewStyle().Foreground(colorLabel).Bold(true).Width(labelW).Render("temp")
		temp := lipgloss.NewStyle().Width(tempW).Align(lipgloss.Right).
			Render(chart.RenderTempValue(cur.Celsius(), m.threshold))
		spark := frameL + chart.RenderSparklinePoints(window, chartWidth, lo, hi, m.threshold) + frameR

		stats := dimS.Render(" avg") + valS.Render(fmt.Sprintf("%6.2f", sum.avg)) +
			dimS.Render(" lo") + valS.Render(fmt.Sprintf("%6.2f", sum.lo)) +
			dimS.Render(" pk") + valS.Render(fmt.Sprintf("%6.2f", sum.hi)) +
			dimS.Render(" x") + valS.Render(fmt.Sprint(sum.crossings)) +
			" " + lipgloss.NewStyle().Foreground(colorCrit).Render(fmt.Sprintf("T:%.1f°", m.threshold))

		rows = append(rows, label+" "+temp+" "+spark+stats)

		pad := strings.Repeat(" ", labelW+tempW+2)
		if timeline := chart.RenderTimeline(window, chartWidth); strings.TrimSpace(timeline) != "" {
			rows = append(rows, pad+timeline)
		}
		rows = append(rows, pad+chart.RenderThresholdScale(cur.Celsius(), lo, hi, m.threshold, chartWidth))

		panels = append(panels, lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1).
			Width(totalWidth).
			Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))
	}
	return panels
}

func (m model) renderFooter(width int) string {
	dimS := lipgloss.NewStyle().Foreground(colorDim)
	keyS := lipgloss.NewStyle().Foreground(colorLabel)

	keys := dimS.Render("q") + keyS.Render(":quit") +
		dimS.Render("  h/l") + keyS.Render(":scrub") +
		dimS.Render("  H/L") + keyS.Render(":skip 60") +
		dimS.Render("  home/end") + keyS.Render(":jump") +
		dimS.Render("  [/]") + keyS.Render(":day") +
		dimS.Render("  +/-") + keyS.Render(":threshold") +
		dimS.Render("  j/k") + keyS.Render(":scroll")

	return lipgloss.NewStyle().
		Background(colorFooterBg).
		Width(width).
		Padding(0, 1).
		Render(keys)
}

// ── Helpers ──────────────────────────────────────────────────────────

type summary struct {
	avg, lo, hi float64
	crossings   int
}

func summarize(pts []history.Point) summary {
	s := summary{lo: pts[0].Celsius(), hi: pts[0].Celsius()}
	var sum float64
	for _, p := range pts {
		c := p.Celsius()
		sum += c
		s.lo = min(s.lo, c)
		s.hi = max(s.hi, c)
		if p.Crossed() {
			s.crossings++
		}
	}
	s.avg = sum / float64(len(pts))
	return s
}

// pointAt returns the point nearest to t. pts must be sorted and non-empty.
func pointAt(pts []history.Point, t time.Time) history.Point {
	i := sort.Search(len(pts), func(i int) bool { return !pts[i].Time.Before(t) })
	switch {
	case i == 0:
		return pts[0]
	case i == len(pts):
		return pts[len(pts)-1]
	}
	if pts[i].Time.Sub(t) < t.Sub(pts[i-1].Time) {
		return pts[i]
	}
	return pts[i-1]
}

// sparkWindow returns up to width points ending at the cursor time.
func sparkWindow(pts []history.Point, cursor time.Time, width int) []history.Point {
	end := sort.Search(len(pts), func(i int) bool { return pts[i].Time.After(cursor) })
	start := max(end-width, 0)
	return pts[start:end]
}
