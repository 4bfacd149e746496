package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luki/simtemp/internal/device"
	"github.com/luki/simtemp/internal/waveform"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simtemp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
device:
  mode: noisy
server:
  addr: ":9000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	dc := cfg.DeviceConfig()
	require.Equal(t, uint32(100), dc.SamplingMS)
	require.Equal(t, int32(45000), dc.ThresholdMC)
	require.Equal(t, waveform.Noisy, dc.Mode)
	require.True(t, *cfg.Device.Enabled, "expected enabled by default")
	require.Equal(t, "http://:9000", cfg.Server.URL, "expected URL derived from addr")
	require.Equal(t, time.Second, cfg.Store.FlushInterval)
	require.Equal(t, SourceWaveform, cfg.Device.Source)
	require.Equal(t, "/sys", cfg.Device.SysfsRoot)
}

func TestLoadKeepsExplicitZeroThreshold(t *testing.T) {
	path := writeConfig(t, `
device:
  threshold_mC: 0
  enabled: false
store:
  flush_interval: 250ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Zero(t, cfg.DeviceConfig().ThresholdMC, "explicit zero threshold overwritten")
	require.False(t, *cfg.Device.Enabled, "explicit enabled: false overwritten")
	require.Equal(t, 250*time.Millisecond, cfg.Store.FlushInterval)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"period too long": "device:\n  sampling_ms: 10001\n",
		"bad mode":        "device:\n  mode: square\n",
		"bad level":       "log:\n  level: chatty\n",
		"bad qos":         "mqtt:\n  qos: 3\n",
	}
	for name, data := range cases {
		_, err := Load(writeConfig(t, data))
		require.Error(t, err, name)
	}

	_, err := Load(writeConfig(t, "device:\n  sampling_ms: 20000\n"))
	require.ErrorIs(t, err, device.ErrInvalidArgument)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err, "expected error for explicit missing path")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SIMTEMP_SAMPLING_MS":  "5",
		"SIMTEMP_THRESHOLD_MC": "-1000",
		"SIMTEMP_MODE":         "ramp",
		"SIMTEMP_ENABLED":      "false",
		"SIMTEMP_ADDR":         ":7000",
		"SIMTEMP_LOG_LEVEL":    "debug",
	}
	var cfg Config
	cfg.applyDefaults()
	require.NoError(t, cfg.applyEnv(func(k string) string { return env[k] }))
	cfg.finalize()

	dc := cfg.DeviceConfig()
	require.Equal(t, uint32(5), dc.SamplingMS)
	require.Equal(t, int32(-1000), dc.ThresholdMC)
	require.Equal(t, waveform.Ramp, dc.Mode)
	require.False(t, *cfg.Device.Enabled)
	require.Equal(t, ":7000", cfg.Server.Addr)
	require.Equal(t, "http://:7000", cfg.Server.URL, "client URL must follow SIMTEMP_ADDR")
	require.Equal(t, "debug", cfg.Log.Level)

	bad := func(k string) string {
		if k == "SIMTEMP_SAMPLING_MS" {
			return "fast"
		}
		return ""
	}
	require.Error(t, Default().applyEnv(bad))
}

func TestLoadDerivesURLFromEnvAddr(t *testing.T) {
	t.Setenv("SIMTEMP_ADDR", "127.0.0.1:9999")
	cfg, err := Load(writeConfig(t, "device:\n  mode: normal\n"))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	require.Equal(t, "http://127.0.0.1:9999", cfg.Server.URL, "client URL does not follow SIMTEMP_ADDR")

	t.Setenv("SIMTEMP_URL", "http://simtemp.local:80")
	cfg, err = Load(writeConfig(t, "device:\n  mode: normal\n"))
	require.NoError(t, err)
	require.Equal(t, "http://simtemp.local:80", cfg.Server.URL, "explicit SIMTEMP_URL overwritten")
}

func TestLoadKeepsExplicitURL(t *testing.T) {
	t.Setenv("SIMTEMP_ADDR", ":7000")
	cfg, err := Load(writeConfig(t, "server:\n  url: http://gateway:8080\n"))
	require.NoError(t, err)
	require.Equal(t, "http://gateway:8080", cfg.Server.URL, "url from file overwritten")
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("warn")
	require.NoError(t, err)
	require.Equal(t, slog.LevelWarn, l)

	_, err = ParseLevel("loud")
	require.Error(t, err)
}
