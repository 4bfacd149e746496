// Package monitor implements the live simtemp TUI using BubbleTea: a
// sparkline of the sample stream coloured against the alert threshold,
// the device counters, and key bindings for the control plane.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/luki/simtemp/internal/chart"
	"github.com/luki/simtemp/internal/device"
	"github.com/luki/simtemp/internal/history"
	"github.com/luki/simtemp/internal/sample"
	"github.com/luki/simtemp/internal/server"
	"github.com/luki/simtemp/internal/store"
	"github.com/luki/simtemp/internal/waveform"
)

const (
	statusInterval = 1 * time.Second
	historySize    = 600
	thresholdStep  = 500 // mC per +/- press
	callTimeout    = 3 * time.Second
)

// Controller is the subset of the client the monitor drives.
type Controller interface {
	Info(ctx context.Context) (server.Info, error)
	Config(ctx context.Context) (device.Config, error)
	SetConfig(ctx context.Context, cfg device.Config) (device.Config, error)
	Stats(ctx context.Context) (device.Stats, error)
	ResetStats(ctx context.Context) (device.Stats, error)
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	Flush(ctx context.Context) (int, error)
}

// ── Messages ─────────────────────────────────────────────────────────

type tickMsg time.Time

type sampleMsg struct {
	s    sample.Sample
	time time.Time
}

type streamEndMsg struct{}

type statusMsg struct {
	info  server.Info
	cfg   device.Config
	stats device.Stats
}

type actionMsg struct {
	what string
	err  error
}

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

// ── Model ────────────────────────────────────────────────────────────

// Model is the BubbleTea model for the live monitor.
type Model struct {
	ctx     context.Context
	ctl     Controller
	samples <-chan sample.Sample
	store   *store.DiskStore

	history *history.Buffer
	info    server.Info
	cfg     device.Config
	stats   device.Stats
	haveCfg bool

	status     string
	err        error
	width      int
	height     int
	lastSample time.Time
	startTime  time.Time
	paused     bool
	streamDone bool
	now        func() time.Time
}

// New creates the monitor. samples is the device's sample stream; rec, if
// non-nil, records every received sample to disk.
func New(ctx context.Context, ctl Controller, samples <-chan sample.Sample, rec *store.DiskStore) Model {
	return Model{
		ctx:       ctx,
		ctl:       ctl,
		samples:   samples,
		store:     rec,
		history:   history.NewBuffer(historySize),
		startTime: time.Now(),
		now:       time.Now,
	}
}

// ── Commands ─────────────────────────────────────────────────────────

func tickCmd() tea.Cmd {
	return tea.Tick(statusInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitSample(ch <-chan sample.Sample, now func() time.Time) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return streamEndMsg{}
		}
		return sampleMsg{s: s, time: now()}
	}
}

func (m Model) fetchStatus() tea.Msg {
	ctx, cancel := context.WithTimeout(m.ctx, callTimeout)
	defer cancel()

	var st statusMsg
	var err error
	if st.info, err = m.ctl.Info(ctx); err != nil {
		return errMsg{err}
	}
	if st.cfg, err = m.ctl.Config(ctx); err != nil {
		return errMsg{err}
	}
	if st.stats, err = m.ctl.Stats(ctx); err != nil {
		return errMsg{err}
	}
	return st
}

func (m Model) action(what string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, callTimeout)
		defer cancel()
		return actionMsg{what: what, err: fn(ctx)}
	}
}

func (m Model) updateConfig(what string, mutate func(*device.Config)) tea.Cmd {
	if !m.haveCfg {
		return nil
	}
	cfg := m.cfg
	mutate(&cfg)
	return m.action(what, func(ctx context.Context) error {
		_, err := m.ctl.SetConfig(ctx, cfg)
		return err
	})
}

// ── Init / Update ────────────────────────────────────────────────────

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitSample(m.samples, m.now), m.fetchStatus, tickCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Batch(m.fetchStatus, tickCmd())

	case sampleMsg:
		if !m.paused {
			m.history.Push(msg.s, msg.time)
			m.lastSample = msg.time
		}
		if m.store != nil {
			rec := store.Record{Time: msg.time, Device: m.info.ID, Sample: msg.s}
			if err := m.store.WriteBatch([]store.Record{rec}); err != nil {
				m.err = fmt.Errorf("record: %w", err)
			}
		}
		return m, waitSample(m.samples, m.now)

	case streamEndMsg:
		m.streamDone = true

	case statusMsg:
		m.info, m.cfg, m.stats = msg.info, msg.cfg, msg.stats
		m.haveCfg = true
		m.err = nil

	case actionMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("%s: %w", msg.what, msg.err)
			return m, nil
		}
		m.status = msg.what
		return m, m.fetchStatus

	case errMsg:
		m.err = msg.err
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.store != nil {
			m.store.Close()
		}
		return m, tea.Quit
	case " ", "p":
		m.paused = !m.paused
	case "e":
		return m, m.action("enabled", m.ctl.Enable)
	case "d":
		return m, m.action("disabled", m.ctl.Disable)
	case "f":
		return m, m.action("flushed", func(ctx context.Context) error {
			_, err := m.ctl.Flush(ctx)
			return err
		})
	case "r":
		m.history.Reset()
		return m, m.action("stats reset", func(ctx context.Context) error {
			_, err := m.ctl.ResetStats(ctx)
			return err
		})
	case "m":
		return m, m.updateConfig("mode changed", func(c *device.Config) {
			c.Mode = nextMode(c.Mode)
		})
	case "+", "=":
		return m, m.updateConfig("threshold raised", func(c *device.Config) {
			c.ThresholdMC += thresholdStep
		})
	case "-", "_":
		return m, m.updateConfig("threshold lowered", func(c *device.Config) {
			c.ThresholdMC -= thresholdStep
		})
	}
	return m, nil
}

func nextMode(mode waveform.Mode) waveform.Mode {
	for i, md := range waveform.Modes {
		if md == mode {
			return waveform.Modes[(i+1)%len(waveform.Modes)]
		}
	}
	return waveform.Normal
}

// ── Color palette ────────────────────────────────────────────────────

var (
	colorTitleBg  = lipgloss.Color("17")
	colorTitleFg  = lipgloss.Color("51")
	colorBorder   = lipgloss.Color("62")
	colorLabel    = lipgloss.Color("252")
	colorDim      = lipgloss.Color("240")
	colorFooterBg = lipgloss.Color("235")
	colorOk       = lipgloss.Color("78")
	colorWarn     = lipgloss.Color("220")
	colorCrit     = lipgloss.Color("196")
	colorCrossed  = lipgloss.Color("213")
)

// ── View ─────────────────────────────────────────────────────────────

func (m Model) View() string {
	if m.width == 0 {
		return "  Initializing..."
	}

	contentWidth := max(m.width-2, 40)

	sections := []string{m.renderTitleBar(contentWidth)}

	if m.err != nil {
		sections = append(sections, lipgloss.NewStyle().
			Foreground(colorCrit).
			Bold(true).
			Width(contentWidth).
			Padding(0, 1).
			Render(fmt.Sprintf(" ERROR: %v", m.err)))
	}

	if m.history.Len() == 0 {
		msg := "Waiting for samples..."
		if m.haveCfg && !m.info.Enabled {
			msg = "Sampling is disabled; press e to enable"
		}
		sections = append(sections, lipgloss.NewStyle().
			Foreground(colorDim).
			Width(contentWidth).
			Align(lipgloss.Center).
			Padding(2, 0).
			Render(msg))
	} else {
		sections = append(sections, m.renderPanel(contentWidth))
	}

	sections = append(sections, m.renderStats(contentWidth), m.renderFooter(contentWidth))

	content := lipgloss.JoinVertical(lipgloss.Left, sections...)
	lines := strings.Split(content, "\n")
	if m.height > 0 && len(lines) > m.height {
		lines = lines[:m.height]
	}
	return strings.Join(lines, "\n")
}

func (m Model) threshold() float64 {
	if !m.haveCfg {
		return float64(device.DefaultThresholdMC) / 1000
	}
	return float64(m.cfg.ThresholdMC) / 1000
}

func (m Model) renderTitleBar(width int) string {
	logo := lipgloss.NewStyle().
		Bold(true).
		Foreground(colorTitleFg).
		Render("SIMTEMP MONITOR")

	dim := lipgloss.NewStyle().Foreground(colorDim)
	var parts []string

	if m.haveCfg {
		state := lipgloss.NewStyle().Foreground(colorOk).Render("ON")
		if !m.info.Enabled {
			state = lipgloss.NewStyle().Foreground(colorWarn).Render("OFF")
		}
		parts = append(parts,
			dim.Render(shortID(m.info.ID)),
			state,
			dim.Render(fmt.Sprintf("%s %dms", m.cfg.Mode, m.cfg.SamplingMS)),
		)
	}

	parts = append(parts, dim.Render("up "+fmtDuration(m.now().Sub(m.startTime))))

	if !m.lastSample.IsZero() {
		parts = append(parts, dim.Render(m.lastSample.Format("15:04:05.000")))
	}
	if m.paused {
		parts = append(parts, lipgloss.NewStyle().Foreground(colorCrit).Bold(true).Render("PAUSED"))
	}
	if m.streamDone {
		parts = append(parts, lipgloss.NewStyle().Foreground(colorCrit).Render("STREAM CLOSED"))
	}
	if m.store != nil {
		parts = append(parts, lipgloss.NewStyle().Foreground(colorCrit).Render("REC")+dim.Render(" "+m.store.Dir()))
	}

	right := strings.Join(parts, dim.Render(" │ "))
	gap := max(width-lipgloss.Width(logo)-lipgloss.Width(right)-4, 1)

	return lipgloss.NewStyle().
		Background(colorTitleBg).
		Width(width).
		Padding(0, 1).
		Render(logo + strings.Repeat(" ", gap) + right)
}

func (m Model) renderPanel(totalWidth int) string {
	const labelW, tempW = 8, 9

	innerWidth := max(totalWidth-4, 30)
	chartWidth := min(max(innerWidth-labelW-tempW-40, 15), 160)

	th := m.threshold()
	pts := m.history.LastNPoints(chartWidth)
	lo, hi := chart.Range(pts, th)

	dimS := lipgloss.NewStyle().Foreground(colorDim)
	valS := lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	frameL := lipgloss.NewStyle().Foreground(colorBorder).Render("▕")
	frameR := lipgloss.NewStyle().Foreground(colorBorder).Render("▏")

	last, _ := m.history.Last()

	label := lipgloss.NewStyle().Foreground(colorLabel).Width(labelW).Render("temp")
	temp := lipgloss.NewStyle().Width(tempW).Align(lipgloss.Right).Render(chart.RenderTempValue(last.Celsius(), th))
	spark := frameL + chart.RenderSparklinePoints(pts, chartWidth, lo, hi, th) + frameR

	stats := dimS.Render(" avg") + valS.Render(fmt.Sprintf("%6.2f", m.history.Avg())) +
		dimS.Render(" lo") + valS.Render(fmt.Sprintf("%6.2f", m.history.MinC())) +
		dimS.Render(" pk") + valS.Render(fmt.Sprintf("%6.2f", m.history.PeakC())) +
		dimS.Render(" T") + lipgloss.NewStyle().Foreground(colorCrit).Render(fmt.Sprintf("%.1f", th))

	pad := strings.Repeat(" ", labelW+tempW+2)
	rows := []string{label + " " + temp + " " + spark + stats}

	if timeline := chart.RenderTimeline(pts, chartWidth); strings.TrimSpace(timeline) != "" {
		rows = append(rows, pad+timeline)
	}
	rows = append(rows, pad+chart.RenderThresholdScale(last.Celsius(), lo, hi, th, chartWidth))

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder).
		Padding(0, 1).
		Width(totalWidth).
		Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) renderStats(width int) string {
	dimS := lipgloss.NewStyle().Foreground(colorDim)
	valS := lipgloss.NewStyle().Foreground(colorLabel)
	s := m.stats

	field := func(name string, v any) string {
		return dimS.Render(name+" ") + valS.Render(fmt.Sprint(v))
	}
	errS := valS
	if s.LastError != 0 {
		errS = lipgloss.NewStyle().Foreground(colorCrit)
	}

	line := strings.Join([]string{
		field("updates", s.Updates),
		field("alerts", s.Alerts),
		field("reads", s.ReadCalls),
		field("polls", s.PollCalls),
		field("overflows", s.Overflows),
		field("buffer", fmt.Sprintf("%d%%", s.BufferUsage)),
		dimS.Render("last_error ") + errS.Render(fmt.Sprint(s.LastError)),
		field("crossings seen", m.history.Crossings),
	}, "  ")

	if m.status != "" {
		line += "  " + lipgloss.NewStyle().Foreground(colorOk).Render("✓ "+m.status)
	}
	return lipgloss.NewStyle().Width(width).Padding(0, 1).Render(line)
}

func (m Model) renderFooter(width int) string {
	okS := lipgloss.NewStyle().Foreground(colorOk).Render("██")
	warnS := lipgloss.NewStyle().Foreground(colorWarn).Render("██")
	critS := lipgloss.NewStyle().Foreground(colorCrit).Render("██")
	crossS := lipgloss.NewStyle().Foreground(colorCrossed).Render("██")
	tickS := lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Render("│")

	dimS := lipgloss.NewStyle().Foreground(colorDim)
	keyS := lipgloss.NewStyle().Foreground(colorLabel)
	legend := okS + dimS.Render(" ok ") +
		warnS + dimS.Render(" warm ") +
		critS + dimS.Render(" alert ") +
		crossS + dimS.Render(" crossed ") +
		tickS + dimS.Render(" 1min")

	keys := dimS.Render("q") + keyS.Render(":quit") +
		dimS.Render("  e/d") + keyS.Render(":on/off") +
		dimS.Render("  m") + keyS.Render(":mode") +
		dimS.Render("  +/-") + keyS.Render(":threshold") +
		dimS.Render("  f") + keyS.Render(":flush") +
		dimS.Render("  r") + keyS.Render(":reset") +
		dimS.Render("  p") + keyS.Render(":pause")

	gap := max(width-lipgloss.Width(legend)-lipgloss.Width(keys)-4, 1)

	return lipgloss.NewStyle().
		Background(colorFooterBg).
		Width(width).
		Padding(0, 1).
		Render(legend + strings.Repeat(" ", gap) + keys)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func fmtDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}
