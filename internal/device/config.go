package device

import (
	"fmt"
	"time"

	"github.com/luki/simtemp/internal/waveform"
)

// Sampling period bounds and attach-time defaults.
const (
	MinSamplingMS = 1
	MaxSamplingMS = 10000

	DefaultSamplingMS  = 100
	DefaultThresholdMC = 45000
)

// Config is the runtime sampling configuration.
type Config struct {
	SamplingMS  uint32        `json:"sampling_ms" msgpack:"sampling_ms" yaml:"sampling_ms"`
	ThresholdMC int32         `json:"threshold_mC" msgpack:"threshold_mC" yaml:"threshold_mC"`
	Mode        waveform.Mode `json:"mode" msgpack:"mode" yaml:"mode"`
}

// DefaultConfig returns the attach-time defaults.
func DefaultConfig() Config {
	return Config{
		SamplingMS:  DefaultSamplingMS,
		ThresholdMC: DefaultThresholdMC,
		Mode:        waveform.Normal,
	}
}

// Validate checks every field before anything is applied.
func (c Config) Validate() error {
	if c.SamplingMS < MinSamplingMS || c.SamplingMS > MaxSamplingMS {
		return fmt.Errorf("%w: sampling_ms %d outside [%d, %d]",
			ErrInvalidArgument, c.SamplingMS, MinSamplingMS, MaxSamplingMS)
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %d", ErrInvalidArgument, uint32(c.Mode))
	}
	return nil
}

// Period returns the sampling period as a duration.
func (c Config) Period() time.Duration {
	return time.Duration(c.SamplingMS) * time.Millisecond
}
