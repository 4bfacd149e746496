package device

import "fmt"

// Config returns the current configuration snapshot.
func (d *Device) Config() Config {
	return *d.cfg.Load()
}

// SetConfig validates every field of c and applies it atomically. An invalid
// field rejects the whole update. A new period takes effect at the next
// re-arm of the trigger.
func (d *Device) SetConfig(c Config) error {
	return d.updateConfig(func(cur *Config) { *cur = c })
}

// updateConfig applies a read-modify-write under the control lock.
func (d *Device) updateConfig(mutate func(*Config)) error {
	d.ctl.Lock()
	defer d.ctl.Unlock()

	next := *d.cfg.Load()
	mutate(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	d.cfg.Store(&next)

	d.log.Info("simtemp: configuration updated",
		"sampling_ms", next.SamplingMS,
		"threshold_mC", next.ThresholdMC,
		"mode", next.Mode.String(),
	)
	return nil
}

// Enable arms sample production. Enabling an enabled device is a no-op.
func (d *Device) Enable() error {
	d.ctl.Lock()
	if d.closed.Load() {
		d.ctl.Unlock()
		return ErrClosed
	}
	changed := d.sched.Enable()
	period := d.cfg.Load().SamplingMS
	d.ctl.Unlock()

	if changed {
		d.log.Info("simtemp: sampling enabled", "sampling_ms", period)
	}
	return nil
}

// Disable stops sample production. When it returns no sample is being
// produced and none will be until the next Enable. Queued samples stay.
func (d *Device) Disable() {
	d.ctl.Lock()
	done, changed := d.sched.Disarm()
	d.ctl.Unlock()

	// Wait outside the lock so control operations are never held up behind
	// in-flight production.
	<-done

	if changed {
		d.log.Info("simtemp: sampling disabled")
	}
}

// Enabled reports whether sampling is armed.
func (d *Device) Enabled() bool {
	return d.sched.Armed()
}

// Stats returns a snapshot of the counters plus the current buffer usage.
func (d *Device) Stats() Stats {
	d.statsMu.Lock()
	c := d.stats
	d.statsMu.Unlock()

	return Stats{
		Updates:     c.updates,
		Alerts:      c.alerts,
		ReadCalls:   c.readCalls,
		PollCalls:   c.pollCalls,
		Overflows:   c.overflows,
		LastError:   c.lastError,
		BufferUsage: d.ring.Usage(),
	}
}

// ResetStats zeroes every counter and last_error in one step.
func (d *Device) ResetStats() {
	d.ctl.Lock()
	defer d.ctl.Unlock()

	d.statsMu.Lock()
	d.stats = counters{}
	d.statsMu.Unlock()

	d.log.Info("simtemp: statistics reset")
}

// Flush discards every queued sample.
func (d *Device) Flush() int {
	d.ctl.Lock()
	defer d.ctl.Unlock()

	n := d.ring.Clear()
	d.log.Info("simtemp: buffer flushed", "dropped", n)
	return n
}

// String identifies the device in logs.
func (d *Device) String() string {
	return fmt.Sprintf("simtemp(%s)", d.id)
}
