package sensor

import (
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/luki/simtemp/internal/waveform"
)

// Source feeds a device from a host zone. The mode still shapes the output:
// Noisy adds the waveform's noise band and Ramp adds the ramp offset on top
// of the measured value.
type Source struct {
	zone Zone
	log  *slog.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	counter uint64
	last    int32
	errors  uint64
}

// NewSource returns a source reading z. The first reading is taken now so
// a broken zone is reported up front.
func NewSource(z Zone, log *slog.Logger) (*Source, error) {
	if log == nil {
		log = slog.Default()
	}
	v, err := z.ReadMC()
	if err != nil {
		return nil, err
	}
	return &Source{
		zone: z,
		log:  log,
		rng:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		last: v,
	}, nil
}

// Zone returns the sysfs input being followed.
func (s *Source) Zone() Zone { return s.zone }

// Next returns the next temperature. A failed read repeats the last good
// value.
func (s *Source) Next(mode waveform.Mode) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	v, err := s.zone.ReadMC()
	if err != nil {
		s.errors++
		if s.errors == 1 || s.errors%100 == 0 {
			s.log.Warn("simtemp: sensor read failed, repeating last value",
				"zone", s.zone.Key(), "errors", s.errors, "err", err)
		}
		v = s.last
	}
	s.last = v

	switch mode {
	case waveform.Noisy:
		v += s.rng.Int32N(2*waveform.NoiseMC+1) - waveform.NoiseMC
	case waveform.Ramp:
		v += waveform.RampOffset(s.counter)
	}
	return v
}

// Errors returns how many reads have failed.
func (s *Source) Errors() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}
