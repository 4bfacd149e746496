package device

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luki/simtemp/internal/queue"
	"github.com/luki/simtemp/internal/sample"
	"github.com/luki/simtemp/internal/waveform"
)

// script replays fixed temperatures in order, repeating the last one.
type script struct {
	mu   sync.Mutex
	vals []int32
	i    int
}

func (s *script) Next(waveform.Mode) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.vals[min(s.i, len(s.vals)-1)]
	s.i++
	return v
}

func counterClock() func() uint64 {
	var n atomic.Uint64
	return func() uint64 { return n.Add(1) }
}

func newTestDevice(t *testing.T, opts ...Option) *Device {
	t.Helper()
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(counterClock()),
	}
	d, err := New(DefaultConfig(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func drain(t *testing.T, d *Device) []sample.Sample {
	t.Helper()
	var out []sample.Sample
	for {
		s, err := d.Read(context.Background(), false)
		if errors.Is(err, ErrWouldBlock) {
			return out
		}
		require.NoError(t, err)
		out = append(out, s)
	}
}

func TestCrossed(t *testing.T) {
	cases := []struct {
		prev, cur, th int32
		want          bool
	}{
		{40000, 46000, 45000, true},
		{46000, 44000, 45000, true},
		{44000, 45000, 45000, true},
		{45000, 46000, 45000, false},
		{45000, 44999, 45000, true},
		{40000, 44999, 45000, false},
		{46000, 47000, 45000, false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, Crossed(c.prev, c.cur, c.th), "%d -> %d @ %d", c.prev, c.cur, c.th)
	}
}

func TestProduceFlagsThresholdCrossings(t *testing.T) {
	d := newTestDevice(t, WithSource(&script{vals: []int32{40000, 46000, 44000}}))

	for i := 0; i < 3; i++ {
		d.produce()
	}

	got := drain(t, d)
	require.Len(t, got, 3)
	require.Equal(t, sample.FlagNew, got[0].Flags)
	require.Equal(t, sample.FlagNew|sample.FlagThresholdCrossed, got[1].Flags)
	require.Equal(t, sample.FlagNew|sample.FlagThresholdCrossed, got[2].Flags)
	require.Equal(t, []int32{40000, 46000, 44000}, []int32{got[0].TempMC, got[1].TempMC, got[2].TempMC})

	st := d.Stats()
	require.Equal(t, uint64(3), st.Updates)
	require.Equal(t, uint64(2), st.Alerts)
	require.Equal(t, int32(44000), d.LastTemperature())
}

func TestProduceTimestampsIncrease(t *testing.T) {
	d := newTestDevice(t)
	for i := 0; i < 10; i++ {
		d.produce()
	}
	got := drain(t, d)
	for i := 1; i < len(got); i++ {
		require.Greater(t, got[i].Timestamp, got[i-1].Timestamp)
	}
}

func TestOverflowDropsNewest(t *testing.T) {
	vals := make([]int32, queue.Capacity+1)
	for i := range vals {
		vals[i] = 40000 + int32(i)
	}
	vals[queue.Capacity] = 50000 // the dropped sample still crosses
	d := newTestDevice(t, WithSource(&script{vals: vals}))

	for range vals {
		d.produce()
	}

	st := d.Stats()
	require.Equal(t, uint64(queue.Capacity), st.Updates)
	require.Equal(t, uint64(1), st.Overflows)
	require.Equal(t, uint64(1), st.Alerts)
	require.Equal(t, Errno(ErrOverflow), st.LastError)
	require.Equal(t, int32(-75), st.LastError)
	require.Equal(t, uint32(100), st.BufferUsage)

	got := drain(t, d)
	require.Len(t, got, queue.Capacity)
	require.Equal(t, int32(40000), got[0].TempMC)
	require.Equal(t, int32(40000+queue.Capacity-1), got[len(got)-1].TempMC)
}

func TestNonBlockingReadOnEmptyQueue(t *testing.T) {
	d := newTestDevice(t)

	_, err := d.Read(context.Background(), false)
	require.ErrorIs(t, err, ErrWouldBlock)
	require.Equal(t, uint64(1), d.Stats().ReadCalls)
}

func TestBlockingReadWakesOnProduce(t *testing.T) {
	d := newTestDevice(t)

	got := make(chan sample.Sample, 1)
	go func() {
		s, err := d.Read(context.Background(), true)
		if err == nil {
			got <- s
		}
	}()

	require.Eventually(t, func() bool { return d.Stats().ReadCalls == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	d.produce()

	select {
	case s := <-got:
		require.True(t, s.Flags.Has(sample.FlagNew))
	case <-time.After(2 * time.Second):
		require.FailNow(t, "blocked reader was not woken")
	}
}

func TestOneSampleWakesAllReadersDeliversOnce(t *testing.T) {
	d := newTestDevice(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type result struct {
		s   sample.Sample
		err error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			s, err := d.Read(ctx, true)
			results <- result{s, err}
		}()
	}

	require.Eventually(t, func() bool { return d.Stats().ReadCalls == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	d.produce()

	var delivered, unavailable int
	for i := 0; i < 2; i++ {
		r := <-results
		switch {
		case r.err == nil:
			delivered++
		case errors.Is(r.err, ErrTemporarilyUnavailable):
			unavailable++
		default:
			require.Failf(t, "unexpected error", "%v", r.err)
		}
	}
	require.Equal(t, 1, delivered)
	require.Equal(t, 1, unavailable)
}

func TestBlockingReadHonoursContext(t *testing.T) {
	d := newTestDevice(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := d.Read(ctx, true)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, uint64(1), d.Stats().ReadCalls)
}

func TestCloseWakesBlockedReaders(t *testing.T) {
	d := newTestDevice(t)

	errc := make(chan error, 1)
	go func() {
		_, err := d.Read(context.Background(), true)
		errc <- err
	}()
	require.Eventually(t, func() bool { return d.Stats().ReadCalls == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, d.Close())
	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "reader still blocked after Close")
	}
	require.ErrorIs(t, d.Enable(), ErrClosed)
	require.NoError(t, d.Close())
}

func TestEnableRacingCloseLeavesDeviceDisarmed(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := newTestDevice(t)

		var (
			wg                  sync.WaitGroup
			enableErr, closeErr error
		)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			enableErr = d.Enable()
		}()
		go func() {
			defer wg.Done()
			<-start
			closeErr = d.Close()
		}()
		close(start)
		wg.Wait()

		require.NoError(t, closeErr)
		if enableErr != nil {
			require.ErrorIs(t, enableErr, ErrClosed)
		}

		require.False(t, d.Enabled(), "iteration %d: closed device left armed", i)
		require.ErrorIs(t, d.Enable(), ErrClosed)
	}
}

func TestPoll(t *testing.T) {
	d := newTestDevice(t)

	ready, wake := d.Poll()
	require.False(t, ready)

	d.produce()
	select {
	case <-wake:
	case <-time.After(time.Second):
		require.FailNow(t, "poll channel not signalled")
	}

	ready, _ = d.Poll()
	require.True(t, ready)
	require.Equal(t, uint64(2), d.Stats().PollCalls)
}

func TestEnableProducesAndDisableStops(t *testing.T) {
	d := newTestDevice(t)
	require.NoError(t, d.SetConfig(Config{SamplingMS: 1, ThresholdMC: 45000, Mode: waveform.Normal}))

	require.NoError(t, d.Enable())
	require.True(t, d.Enabled())
	require.Eventually(t, func() bool { return d.Stats().Updates >= 3 }, 2*time.Second, time.Millisecond)

	d.Disable()
	require.False(t, d.Enabled())
	n := d.Stats().Updates
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, n, d.Stats().Updates, "no samples after Disable returns")

	// queued samples survive a disable
	first := drain(t, d)
	require.NotEmpty(t, first)

	require.NoError(t, d.Enable())
	require.Eventually(t, func() bool { return d.Stats().Updates >= n+3 }, 2*time.Second, time.Millisecond)
	d.Disable()

	second := drain(t, d)
	require.NotEmpty(t, second)
	require.Greater(t, second[0].Timestamp, first[len(first)-1].Timestamp, "no replay across enable")
}

func TestEnableDisableIdempotent(t *testing.T) {
	d := newTestDevice(t)

	d.Disable()
	require.NoError(t, d.Enable())
	require.NoError(t, d.Enable())
	require.True(t, d.Enabled())
	d.Disable()
	d.Disable()
	require.False(t, d.Enabled())
}

func TestSetConfigValidation(t *testing.T) {
	d := newTestDevice(t)
	before := d.Config()

	bad := []Config{
		{SamplingMS: 0, ThresholdMC: 1, Mode: waveform.Normal},
		{SamplingMS: MaxSamplingMS + 1, ThresholdMC: 1, Mode: waveform.Normal},
		{SamplingMS: 50, ThresholdMC: 1, Mode: waveform.Mode(7)},
	}
	for _, c := range bad {
		require.ErrorIs(t, d.SetConfig(c), ErrInvalidArgument)
		require.Equal(t, before, d.Config(), "rejected update must not apply")
	}

	good := Config{SamplingMS: MaxSamplingMS, ThresholdMC: -5000, Mode: waveform.Ramp}
	require.NoError(t, d.SetConfig(good))
	require.Equal(t, good, d.Config())
}

func TestResetStats(t *testing.T) {
	vals := make([]int32, queue.Capacity+2)
	for i := range vals {
		vals[i] = int32(i%2) * 90000
	}
	d := newTestDevice(t, WithSource(&script{vals: vals}))
	for range vals {
		d.produce()
	}
	d.Poll()
	d.Read(context.Background(), false)

	st := d.Stats()
	require.NotZero(t, st.Updates)
	require.NotZero(t, st.Alerts)
	require.NotZero(t, st.Overflows)
	require.NotZero(t, st.LastError)

	d.ResetStats()
	st = d.Stats()
	require.Zero(t, st.Updates)
	require.Zero(t, st.Alerts)
	require.Zero(t, st.ReadCalls)
	require.Zero(t, st.PollCalls)
	require.Zero(t, st.Overflows)
	require.Zero(t, st.LastError)
	// buffer usage follows the queue, not the counters
	require.Equal(t, uint32((queue.Capacity-1)*100/queue.Capacity), st.BufferUsage)
}

func TestFlush(t *testing.T) {
	d := newTestDevice(t)
	for i := 0; i < 5; i++ {
		d.produce()
	}
	require.Equal(t, 5, d.Flush())
	require.Zero(t, d.Stats().BufferUsage)

	_, err := d.Read(context.Background(), false)
	require.ErrorIs(t, err, ErrWouldBlock)
}

func TestHandleRead(t *testing.T) {
	d := newTestDevice(t, WithSource(&script{vals: []int32{41234}}))

	h, err := d.Open(true)
	require.NoError(t, err)
	require.Equal(t, 1, d.OpenCount())

	buf := make([]byte, 8)
	_, err = h.Read(buf)
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.Equal(t, uint64(1), d.Stats().ReadCalls)

	buf = make([]byte, 64)
	_, err = h.Read(buf)
	require.ErrorIs(t, err, ErrWouldBlock)

	d.produce()
	d.produce()
	n, err := h.Read(buf)
	require.NoError(t, err)
	require.Equal(t, sample.Size, n, "one record per read")

	var s sample.Sample
	require.NoError(t, s.UnmarshalBinary(buf[:n]))
	require.Equal(t, int32(41234), s.TempMC)
	require.Equal(t, uint64(3), d.Stats().ReadCalls)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	require.Equal(t, 0, d.OpenCount())
	_, err = h.Read(buf)
	require.ErrorIs(t, err, ErrClosed)
}

func TestErrno(t *testing.T) {
	require.Equal(t, int32(0), Errno(nil))
	require.Equal(t, int32(-22), Errno(ErrInvalidArgument))
	require.Equal(t, int32(-22), Errno(ErrUnknownAttr))
	require.Equal(t, int32(-11), Errno(ErrWouldBlock))
	require.Equal(t, int32(-11), Errno(ErrTemporarilyUnavailable))
	require.Equal(t, int32(-75), Errno(ErrOverflow))
	require.Equal(t, int32(-4), Errno(context.Canceled))
	require.Equal(t, int32(-5), Errno(errors.New("boom")))
}
