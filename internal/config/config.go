// Package config loads the simtemp YAML configuration, applies defaults and
// SIMTEMP_* environment overrides, and validates the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/luki/simtemp/internal/device"
	"github.com/luki/simtemp/internal/waveform"
)

// DefaultPath is used when no -config flag is given. It may be absent.
const DefaultPath = "./simtemp.yaml"

// Config is the whole simtemp.yaml file.
type Config struct {
	Device DeviceConfig `yaml:"device"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Store  StoreConfig  `yaml:"store"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
}

// DeviceConfig holds the device defaults applied at attach time. Pointer
// fields distinguish an explicit zero from an absent key.
type DeviceConfig struct {
	SamplingMS  uint32        `yaml:"sampling_ms"`
	ThresholdMC *int32        `yaml:"threshold_mC"`
	Mode        waveform.Mode `yaml:"mode"`
	Enabled     *bool         `yaml:"enabled"`

	// Source is "waveform" (synthetic), "host" (first host sensor) or a
	// host zone key such as "coretemp/Core 0".
	Source    string `yaml:"source"`
	SysfsRoot string `yaml:"sysfs_root"`
}

// Device sources.
const (
	SourceWaveform = "waveform"
	SourceHost     = "host"
)

// ServerConfig covers the listener and where clients find it.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	URL             string        `yaml:"url"` // where clients reach the server
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxPollWait     time.Duration `yaml:"max_poll_wait"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StoreConfig configures `simtemp record`.
type StoreConfig struct {
	Dir           string        `yaml:"dir"`
	PostgresDSN   string        `yaml:"postgres_dsn"`
	Table         string        `yaml:"table"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// MQTTConfig configures `simtemp bridge`.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Telemetry   bool   `yaml:"telemetry"`
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	var c Config
	c.applyDefaults()
	c.finalize()
	return &c
}

// Load reads path, applies defaults and environment overrides, and
// validates. A missing file at DefaultPath yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
	default:
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.finalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Device.SamplingMS == 0 {
		c.Device.SamplingMS = device.DefaultSamplingMS
	}
	if c.Device.ThresholdMC == nil {
		th := int32(device.DefaultThresholdMC)
		c.Device.ThresholdMC = &th
	}
	if c.Device.Enabled == nil {
		on := true
		c.Device.Enabled = &on
	}
	if c.Device.Source == "" {
		c.Device.Source = SourceWaveform
	}
	if c.Device.SysfsRoot == "" {
		c.Device.SysfsRoot = "/sys"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}
	if c.Server.MaxPollWait == 0 {
		c.Server.MaxPollWait = 30 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Store.Table == "" {
		c.Store.Table = "simtemp_samples"
	}
	if c.Store.BatchSize == 0 {
		c.Store.BatchSize = 64
	}
	if c.Store.FlushInterval == 0 {
		c.Store.FlushInterval = time.Second
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "simtemp"
	}
}

// applyEnv overrides fields from SIMTEMP_* variables.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("SIMTEMP_SAMPLING_MS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("SIMTEMP_SAMPLING_MS: %w", err)
		}
		c.Device.SamplingMS = uint32(n)
	}
	if v := getenv("SIMTEMP_THRESHOLD_MC"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("SIMTEMP_THRESHOLD_MC: %w", err)
		}
		th := int32(n)
		c.Device.ThresholdMC = &th
	}
	if v := getenv("SIMTEMP_MODE"); v != "" {
		m, err := waveform.ParseMode(v)
		if err != nil {
			return fmt.Errorf("SIMTEMP_MODE: %w", err)
		}
		c.Device.Mode = m
	}
	if v := getenv("SIMTEMP_ENABLED"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SIMTEMP_ENABLED: %w", err)
		}
		c.Device.Enabled = &on
	}
	if v := getenv("SIMTEMP_SOURCE"); v != "" {
		c.Device.Source = v
	}
	if v := getenv("SIMTEMP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := getenv("SIMTEMP_URL"); v != "" {
		c.Server.URL = v
	}
	if v := getenv("SIMTEMP_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// finalize fills fields derived from others once every override is in.
func (c *Config) finalize() {
	if c.Server.URL == "" {
		c.Server.URL = "http://" + c.Server.Addr
	}
}

func (c *Config) validate() error {
	if err := c.DeviceConfig().Validate(); err != nil {
		return fmt.Errorf("device config: %w", err)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Store.BatchSize < 0 {
		return fmt.Errorf("store.batch_size must not be negative")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	return nil
}

// DeviceConfig converts the device section to a device.Config.
func (c *Config) DeviceConfig() device.Config {
	dc := device.Config{
		SamplingMS: c.Device.SamplingMS,
		Mode:       c.Device.Mode,
	}
	if c.Device.ThresholdMC != nil {
		dc.ThresholdMC = *c.Device.ThresholdMC
	}
	return dc
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}
