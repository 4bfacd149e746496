// Package clock provides the monotonic nanosecond timestamps stamped on
// samples.
package clock

// Func returns a monotonic timestamp in nanoseconds.
type Func func() uint64

// Monotonic is the platform monotonic clock.
var Monotonic Func = monotonic
