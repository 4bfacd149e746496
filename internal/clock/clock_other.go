//go:build !linux

package clock

import "time"

var start = time.Now()

func monotonic() uint64 {
	return uint64(time.Since(start))
}
