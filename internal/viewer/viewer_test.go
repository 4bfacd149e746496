package viewer

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/luki/simtemp/internal/history"
	"github.com/luki/simtemp/internal/sample"
	"github.com/luki/simtemp/internal/store"
)

func writeDay(t *testing.T, dir string, day time.Time, devices ...string) {
	t.Helper()
	ds, err := store.New(dir)
	require.NoError(t, err)
	defer ds.Close()

	var recs []store.Record
	for i := 0; i < 5; i++ {
		for _, dev := range devices {
			flags := sample.FlagNew
			temp := int32(40000 + i*2000)
			if i == 3 {
				flags |= sample.FlagThresholdCrossed
			}
			recs = append(recs, store.Record{
				Time:   day.Add(time.Duration(i) * time.Second),
				Device: dev,
				Sample: sample.Sample{Timestamp: uint64(i + 1), TempMC: temp, Flags: flags},
			})
		}
	}
	require.NoError(t, ds.WriteBatch(recs))
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestLoadDayGroupsByDevice(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	writeDay(t, dir, day, "beta", "alpha")

	days, err := store.ListDays(dir)
	require.NoError(t, err)
	m := initModel(dir, days, 45)

	require.NoError(t, m.err)
	require.Equal(t, []string{"alpha", "beta"}, m.devices)
	require.Len(t, m.timeSlots, 5)
	require.Equal(t, 10, m.records)
	require.Equal(t, 4, m.cursor, "cursor should start at the last slot")
}

func TestScrubAndDayNavigation(t *testing.T) {
	dir := t.TempDir()
	writeDay(t, dir, time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local), "dev")
	writeDay(t, dir, time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local), "dev", "other")

	days, _ := store.ListDays(dir)
	var tm tea.Model = initModel(dir, days, 45)

	for _, k := range []string{"h", "h", "H", "l"} {
		tm, _ = tm.Update(key(k))
	}
	m := tm.(model)
	require.Equal(t, 1, m.cursor)

	tm, _ = m.Update(key("["))
	m = tm.(model)
	require.Equal(t, 1, m.dayIdx)
	require.Len(t, m.devices, 1)

	tm, _ = m.Update(key("+"))
	require.Equal(t, 45.5, tm.(model).threshold)
}

func TestPointAtAndWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var pts []history.Point
	for i := 0; i < 10; i++ {
		pts = append(pts, history.Point{TempMC: int32(i * 1000), Time: base.Add(time.Duration(i) * time.Second)})
	}

	require.Equal(t, int32(3000), pointAt(pts, base.Add(3400*time.Millisecond)).TempMC, "nearest")
	require.Equal(t, int32(0), pointAt(pts, base.Add(-time.Hour)).TempMC, "before start")
	require.Equal(t, int32(9000), pointAt(pts, base.Add(time.Hour)).TempMC, "after end")

	w := sparkWindow(pts, base.Add(5*time.Second), 3)
	require.Len(t, w, 3)
	require.Equal(t, int32(3000), w[0].TempMC)
	require.Equal(t, int32(5000), w[2].TempMC)
}

func TestSummarize(t *testing.T) {
	pts := []history.Point{
		{TempMC: 40000},
		{TempMC: 46000, Flags: sample.FlagThresholdCrossed},
		{TempMC: 43000},
	}
	s := summarize(pts)
	require.Equal(t, 40.0, s.lo)
	require.Equal(t, 46.0, s.hi)
	require.Equal(t, 1, s.crossings)
	require.InDelta(t, 43.0, s.avg, 0.01)
}

func TestView(t *testing.T) {
	dir := t.TempDir()
	writeDay(t, dir, time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local), "sensor-a")
	days, _ := store.ListDays(dir)

	tm, _ := initModel(dir, days, 45).Update(tea.WindowSizeMsg{Width: 140, Height: 40})
	v := tm.View()
	for _, want := range []string{"SIMTEMP HISTORY", "2026-03-01", "sensor-a", "T:45.0"} {
		require.Contains(t, v, want)
	}
}

func TestRunWithoutData(t *testing.T) {
	require.ErrorIs(t, Run(t.TempDir(), 45), ErrNoData)
}
