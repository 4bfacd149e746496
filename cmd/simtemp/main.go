package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/luki/simtemp/internal/client"
	"github.com/luki/simtemp/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]
	var err error

	switch cmd {
	case "serve":
		err = serveCommand(args)
	case "read":
		err = readCommand(args)
	case "config":
		err = configCommand(args)
	case "stats":
		err = statsCommand(args)
	case "ctl":
		err = ctlCommand(args)
	case "attr":
		err = attrCommand(args)
	case "selftest":
		err = selftestCommand(args)
	case "stress":
		err = stressCommand(args)
	case "watch":
		err = watchCommand(args)
	case "history":
		err = historyCommand(args)
	case "record":
		err = recordCommand(args)
	case "bridge":
		err = bridgeCommand(args)
	case "sensors":
		err = sensorsCommand(args)
	case "validate":
		err = validateCommand(args)
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "simtemp %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

// newLogger builds the process logger: tint on a terminal, JSON when asked.
func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    os.Getenv("NO_COLOR") != "",
	})), nil
}

// setup loads the configuration and installs the logger as the default.
func setup(cfgPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(log)
	return cfg, log, nil
}

// dial resolves the server URL (flag first, then config) and returns a
// client for it.
func dial(cfgPath, url string) (*client.Client, *config.Config, *slog.Logger, error) {
	cfg, log, err := setup(cfgPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if url == "" {
		url = cfg.Server.URL
	}
	return client.New(url, client.WithLogger(log)), cfg, log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func validateCommand(args []string) error {
	fs := newFlagSet("validate")
	cfgPath := fs.String("config", config.DefaultPath, "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	dc := cfg.DeviceConfig()
	fmt.Printf("config %s looks good: sampling=%dms threshold=%dmC mode=%s addr=%s\n",
		*cfgPath, dc.SamplingMS, dc.ThresholdMC, dc.Mode, cfg.Server.Addr)
	return nil
}

func printUsage() {
	fmt.Print(`simtemp - simulated temperature sensor

Usage:
  simtemp <command> [flags]

Device:
  serve      Run the simulated device and its HTTP/websocket control plane
  validate   Load and validate a config file without starting anything
  sensors    List host temperature inputs usable as device.source
  selftest   Run an in-process device and check an alert arrives within two periods
  stress     Hammer an in-process device with readers, pollers and config churn

Client:
  read       Read samples (blocking, or -nonblock)
  config     Show or change sampling_ms, threshold_mC and mode
  stats      Print the device counters
  ctl        enable | disable | flush | reset | info
  attr       List, read or write a named attribute

Consumers:
  watch      Live TUI with sparkline, counters and control keys
  record     Stream samples into daily CSV files and optionally Postgres
  history    Browse recorded samples
  bridge     Publish threshold alerts (and telemetry) to MQTT

Examples:
  simtemp serve -config ./simtemp.yaml
  simtemp config -sampling-ms 50 -mode noisy
  simtemp read -n 10
  simtemp ctl flush
  simtemp attr threshold_mC 42000
  simtemp record -dir ./data -postgres "postgres://localhost/simtemp?sslmode=disable"
  simtemp bridge -broker localhost:1883 -telemetry
`)
}
