package device

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luki/simtemp/internal/waveform"
)

func TestAttrsRoundTrip(t *testing.T) {
	d := newTestDevice(t)

	require.NoError(t, d.WriteAttr(AttrSamplingMS, "250\n"))
	require.NoError(t, d.WriteAttr(AttrThresholdMC, " -1200 "))
	require.NoError(t, d.WriteAttr(AttrMode, "RAMP"))

	v, err := d.ReadAttr(AttrSamplingMS)
	require.NoError(t, err)
	require.Equal(t, "250\n", v)

	v, err = d.ReadAttr(AttrThresholdMC)
	require.NoError(t, err)
	require.Equal(t, "-1200\n", v)

	v, err = d.ReadAttr(AttrMode)
	require.NoError(t, err)
	require.Equal(t, "ramp\n", v)

	require.Equal(t, waveform.Ramp, d.Config().Mode)
}

func TestAttrsRejectBadValues(t *testing.T) {
	d := newTestDevice(t)
	before := d.Config()

	require.ErrorIs(t, d.WriteAttr(AttrSamplingMS, "0"), ErrInvalidArgument)
	require.ErrorIs(t, d.WriteAttr(AttrSamplingMS, "fast"), ErrInvalidArgument)
	require.ErrorIs(t, d.WriteAttr(AttrThresholdMC, "99999999999"), ErrInvalidArgument)
	require.ErrorIs(t, d.WriteAttr(AttrMode, "square"), ErrInvalidArgument)
	require.ErrorIs(t, d.WriteAttr(AttrEnabled, "maybe"), ErrInvalidArgument)
	require.ErrorIs(t, d.WriteAttr(AttrStats, "0"), ErrReadOnlyAttr)
	require.ErrorIs(t, d.WriteAttr("nope", "1"), ErrUnknownAttr)

	_, err := d.ReadAttr("nope")
	require.ErrorIs(t, err, ErrUnknownAttr)

	require.Equal(t, before, d.Config())
}

func TestEnabledAttr(t *testing.T) {
	d := newTestDevice(t)

	v, _ := d.ReadAttr(AttrEnabled)
	require.Equal(t, "0\n", v)

	require.NoError(t, d.WriteAttr(AttrEnabled, "1"))
	v, _ = d.ReadAttr(AttrEnabled)
	require.Equal(t, "1\n", v)

	require.NoError(t, d.WriteAttr(AttrEnabled, "false"))
	require.False(t, d.Enabled())
}

func TestStatsAttr(t *testing.T) {
	d := newTestDevice(t)
	d.produce()

	v, err := d.ReadAttr(AttrStats)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(v, "updates: 1\n"))
	require.Contains(t, v, "buffer_usage: 1%\n")
	require.Contains(t, v, "last_error: 0\n")
}
