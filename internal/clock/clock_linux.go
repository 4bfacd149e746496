//go:build linux

package clock

import (
	"time"

	"golang.org/x/sys/unix"
)

var start = time.Now()

// monotonic reads CLOCK_MONOTONIC, the same clock the kernel's ktime_get_ns
// uses, so timestamps line up with other tools on the host.
func monotonic() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return uint64(time.Since(start))
	}
	return uint64(ts.Nano())
}
