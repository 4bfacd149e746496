// Package device implements the simulated temperature sensor: a periodic
// producer feeding a bounded sample queue, blocking and polling readers, and
// a control plane that reconfigures sampling at runtime.
//
// Locking:
//   - ctl serializes control-plane operations. The producer never takes it;
//     it reads the configuration through an atomic snapshot pointer.
//   - The queue has its own mutex, held for O(1) work only.
//   - statsMu and the notifier mutex are leaves.
//
// No operation blocks while holding any of them. Disable flips state under
// ctl and waits for in-flight production after releasing it.
package device

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/luki/simtemp/internal/clock"
	"github.com/luki/simtemp/internal/queue"
	"github.com/luki/simtemp/internal/sample"
	"github.com/luki/simtemp/internal/scheduler"
	"github.com/luki/simtemp/internal/waveform"
)

// Source produces the next temperature for a mode.
type Source interface {
	Next(mode waveform.Mode) int32
}

// Device is one attached simulated sensor. Every operation goes through an
// explicitly owned *Device; there is no package-level instance.
type Device struct {
	id  uuid.UUID
	log *slog.Logger
	obs Observer
	now clock.Func
	src Source

	ctl sync.Mutex
	cfg atomic.Pointer[Config]

	ring  *queue.Ring
	sched *scheduler.Scheduler
	wake  notifier

	statsMu sync.Mutex
	stats   counters

	lastTemp  atomic.Int32 // written by the producer only
	openCount atomic.Int32
	closed    atomic.Bool
}

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) { d.log = l }
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(d *Device) { d.obs = o }
}

// WithSource replaces the waveform generator.
func WithSource(s Source) Option {
	return func(d *Device) { d.src = s }
}

// WithClock replaces the timestamp clock.
func WithClock(c clock.Func) Option {
	return func(d *Device) { d.now = c }
}

// WithID fixes the instance ID instead of generating one.
func WithID(id uuid.UUID) Option {
	return func(d *Device) { d.id = id }
}

// New attaches a device with the given configuration. The device starts
// disabled.
func New(cfg Config, opts ...Option) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Device{
		id:   uuid.New(),
		log:  slog.Default(),
		obs:  nopObserver{},
		now:  clock.Monotonic,
		ring: queue.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.src == nil {
		d.src = waveform.New(nil)
	}
	d.log = d.log.With("device", d.id.String())
	d.cfg.Store(&cfg)
	d.wake.init()
	d.sched = scheduler.New(d.period, d.produce)

	d.log.Info("simtemp: device attached",
		"sampling_ms", cfg.SamplingMS,
		"threshold_mC", cfg.ThresholdMC,
		"mode", cfg.Mode.String(),
	)
	return d, nil
}

// ID returns the instance ID.
func (d *Device) ID() uuid.UUID { return d.id }

// Close detaches the device: production stops and blocked readers return
// ErrClosed. It is safe to call more than once.
func (d *Device) Close() error {
	// Marked under ctl so an Enable either sees closed or arms before the
	// Disable below.
	d.ctl.Lock()
	already := d.closed.Swap(true)
	d.ctl.Unlock()
	if already {
		return nil
	}
	d.Disable()
	d.wake.broadcast()
	d.log.Info("simtemp: device detached")
	return nil
}

// OpenCount returns the number of open handles.
func (d *Device) OpenCount() int { return int(d.openCount.Load()) }

// LastTemperature returns the value used for the next crossing comparison.
func (d *Device) LastTemperature() int32 { return d.lastTemp.Load() }

// SchedulerStats exposes the trigger counters.
func (d *Device) SchedulerStats() scheduler.Stats { return d.sched.Stats() }

// Crossed reports whether cur lies on the other side of threshold from prev.
// An upward pass counts when cur reaches the threshold; a downward pass
// counts when cur drops below it.
func Crossed(prev, cur, threshold int32) bool {
	return (prev < threshold && cur >= threshold) ||
		(prev >= threshold && cur < threshold)
}

func (d *Device) period() time.Duration {
	return d.cfg.Load().Period()
}

// produce is the deferred unit of work: generate, detect crossing, enqueue,
// count, wake. It runs on the scheduler's worker goroutine only.
func (d *Device) produce() {
	cfg := d.cfg.Load()

	s := sample.Sample{
		Timestamp: d.now(),
		TempMC:    d.src.Next(cfg.Mode),
		Flags:     sample.FlagNew,
	}

	prev := d.lastTemp.Swap(s.TempMC)
	crossed := Crossed(prev, s.TempMC, cfg.ThresholdMC)
	if crossed {
		s.Flags |= sample.FlagThresholdCrossed
	}

	enqueued := d.ring.Enqueue(s)
	d.recordProduced(crossed, enqueued)
	d.wake.broadcast()

	depth := d.ring.Len()
	d.obs.ObserveSample(s, enqueued, depth)

	if !enqueued {
		d.log.Warn("simtemp: sample buffer overflow", "depth", depth)
		return
	}
	d.log.Debug("simtemp: generated sample",
		"temp_mC", s.TempMC,
		"flags", s.Flags.String(),
	)
}
