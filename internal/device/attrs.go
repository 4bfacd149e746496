package device

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/luki/simtemp/internal/waveform"
)

// Attribute names of the textual control surface.
const (
	AttrSamplingMS  = "sampling_ms"
	AttrThresholdMC = "threshold_mC"
	AttrMode        = "mode"
	AttrEnabled     = "enabled"
	AttrStats       = "stats"
)

// Attrs lists every attribute in display order.
var Attrs = []string{AttrSamplingMS, AttrThresholdMC, AttrMode, AttrEnabled, AttrStats}

// ErrUnknownAttr is returned for a name outside Attrs.
var ErrUnknownAttr = fmt.Errorf("%w: unknown attribute", ErrInvalidArgument)

// ErrReadOnlyAttr is returned when writing the stats attribute.
var ErrReadOnlyAttr = fmt.Errorf("%w: attribute is read-only", ErrInvalidArgument)

// ReadAttr renders one attribute as newline-terminated text.
func (d *Device) ReadAttr(name string) (string, error) {
	cfg := d.Config()
	switch name {
	case AttrSamplingMS:
		return fmt.Sprintf("%d\n", cfg.SamplingMS), nil
	case AttrThresholdMC:
		return fmt.Sprintf("%d\n", cfg.ThresholdMC), nil
	case AttrMode:
		return cfg.Mode.String() + "\n", nil
	case AttrEnabled:
		if d.Enabled() {
			return "1\n", nil
		}
		return "0\n", nil
	case AttrStats:
		return d.Stats().String(), nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownAttr, name)
	}
}

// WriteAttr parses value and applies it. Values are trimmed of surrounding
// whitespace; a bad value leaves the configuration unchanged.
func (d *Device) WriteAttr(name, value string) error {
	value = strings.TrimSpace(value)

	switch name {
	case AttrSamplingMS:
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: sampling_ms %q", ErrInvalidArgument, value)
		}
		return d.updateConfig(func(c *Config) { c.SamplingMS = uint32(v) })

	case AttrThresholdMC:
		v, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: threshold_mC %q", ErrInvalidArgument, value)
		}
		return d.updateConfig(func(c *Config) { c.ThresholdMC = int32(v) })

	case AttrMode:
		m, err := waveform.ParseMode(value)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return d.updateConfig(func(c *Config) { c.Mode = m })

	case AttrEnabled:
		on, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: enabled %q", ErrInvalidArgument, value)
		}
		if on {
			return d.Enable()
		}
		d.Disable()
		return nil

	case AttrStats:
		return ErrReadOnlyAttr

	default:
		return fmt.Errorf("%w %q", ErrUnknownAttr, name)
	}
}
