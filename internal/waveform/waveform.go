// Package waveform generates the simulated temperature signal. The output is
// a function of a shared call counter, not wall time, so the waveform period
// is measured in samples.
package waveform

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
)

// Waveform bounds in milli-degrees Celsius. Normal and Noisy stay within
// BaseMC±(RangeMC+NoiseMC); Ramp stays within [BaseMC, BaseMC+RangeMC].
const (
	// BaseMC is the centre of every waveform.
	BaseMC = 40000
	// RangeMC is the triangle amplitude and the ramp height.
	RangeMC = 10000
	// NoiseMC bounds the uniform offset added in Noisy mode.
	NoiseMC = 2000

	angleStep  = 300
	fullCycle  = 6280
	quarter    = fullCycle / 4
	rampPeriod = 200
)

// Mode selects the waveform function.
type Mode uint32

// Modes in wire order: 0 normal, 1 noisy, 2 ramp.
const (
	Normal Mode = iota
	Noisy
	Ramp
)

var modeNames = [...]string{"normal", "noisy", "ramp"}

// Modes lists every valid mode in wire order.
var Modes = []Mode{Normal, Noisy, Ramp}

func (m Mode) String() string {
	if m.Valid() {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", uint32(m))
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return int(m) < len(modeNames) }

// ParseMode accepts a mode name (case-insensitive) or its wire number.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range modeNames {
		if s == name || s == fmt.Sprint(i) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("unknown mode %d", uint32(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Triangle returns a triangular approximation of sin() for the given call
// counter, scaled to [-1000, 1000].
func Triangle(counter uint64) int32 {
	// (counter*300) mod 6280 without overflowing the product.
	angle := int32((counter % (fullCycle / 20)) * angleStep % fullCycle)
	switch {
	case angle < quarter:
		return angle * 1000 / quarter
	case angle < 3*quarter:
		return 1000 - (angle-quarter)*1000/quarter
	default:
		return -1000 + (angle-3*quarter)*1000/quarter
	}
}

// RampOffset returns the up/down ramp offset in [0, RangeMC].
func RampOffset(counter uint64) int32 {
	k := int32(counter % rampPeriod)
	half := int32(rampPeriod / 2)
	if k <= half {
		return k * RangeMC / half
	}
	return (rampPeriod - k) * RangeMC / half
}

// Generator produces temperatures from a monotonically increasing counter
// shared by every mode, so switching modes does not reset the phase.
type Generator struct {
	counter atomic.Uint64

	mu  sync.Mutex
	rng *rand.Rand // nil uses the global source
}

// New returns a generator. A nil src draws noise from the global source.
func New(src rand.Source) *Generator {
	g := &Generator{}
	if src != nil {
		g.rng = rand.New(src)
	}
	return g
}

// Next returns the temperature in milli-degrees for mode and advances the
// counter by one. Unknown modes yield 0.
func (g *Generator) Next(mode Mode) int32 {
	c := g.counter.Add(1) - 1

	switch mode {
	case Normal:
		return BaseMC + RangeMC*Triangle(c)/1000
	case Noisy:
		return BaseMC + RangeMC*Triangle(c)/1000 + g.noise()
	case Ramp:
		return BaseMC + RampOffset(c)
	default:
		return 0
	}
}

// Counter returns the number of values generated so far.
func (g *Generator) Counter() uint64 {
	return g.counter.Load()
}

func (g *Generator) noise() int32 {
	if g.rng == nil {
		return rand.Int32N(2*NoiseMC+1) - NoiseMC
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Int32N(2*NoiseMC+1) - NoiseMC
}
