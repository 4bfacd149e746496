package device

import (
	"fmt"
	"strings"
)

// Stats is a snapshot of the device counters. BufferUsage is derived from the
// queue occupancy at the time of the snapshot.
type Stats struct {
	Updates     uint64 `json:"updates" msgpack:"updates"`
	Alerts      uint64 `json:"alerts" msgpack:"alerts"`
	ReadCalls   uint64 `json:"read_calls" msgpack:"read_calls"`
	PollCalls   uint64 `json:"poll_calls" msgpack:"poll_calls"`
	Overflows   uint64 `json:"overflows" msgpack:"overflows"`
	LastError   int32  `json:"last_error" msgpack:"last_error"`
	BufferUsage uint32 `json:"buffer_usage" msgpack:"buffer_usage"`
}

// String renders the summary exposed on the textual surface.
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "updates: %d\n", s.Updates)
	fmt.Fprintf(&b, "alerts: %d\n", s.Alerts)
	fmt.Fprintf(&b, "read_calls: %d\n", s.ReadCalls)
	fmt.Fprintf(&b, "poll_calls: %d\n", s.PollCalls)
	fmt.Fprintf(&b, "overflows: %d\n", s.Overflows)
	fmt.Fprintf(&b, "last_error: %d\n", s.LastError)
	fmt.Fprintf(&b, "buffer_usage: %d%%\n", s.BufferUsage)
	return b.String()
}

// counters are the mutable part of Stats, guarded by Device.statsMu. That
// mutex is a leaf: nothing else is acquired while it is held.
type counters struct {
	updates   uint64
	alerts    uint64
	readCalls uint64
	pollCalls uint64
	overflows uint64
	lastError int32
}

func (d *Device) recordProduced(crossed, enqueued bool) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()

	if crossed {
		d.stats.alerts++
	}
	if enqueued {
		d.stats.updates++
	} else {
		d.stats.overflows++
		d.stats.lastError = Errno(ErrOverflow)
	}
}

func (d *Device) countRead() {
	d.statsMu.Lock()
	d.stats.readCalls++
	d.statsMu.Unlock()
}

func (d *Device) countPoll() {
	d.statsMu.Lock()
	d.stats.pollCalls++
	d.statsMu.Unlock()
}
