package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/luki/simtemp/internal/bridge"
	"github.com/luki/simtemp/internal/client"
	"github.com/luki/simtemp/internal/config"
	"github.com/luki/simtemp/internal/monitor"
	"github.com/luki/simtemp/internal/sample"
	"github.com/luki/simtemp/internal/store"
	"github.com/luki/simtemp/internal/viewer"
)

// streamErrors logs the terminal stream error, if any.
func streamErrors(log *slog.Logger, errc <-chan error) {
	if err := <-errc; err != nil {
		log.Error("simtemp: stream ended", "err", err)
	}
}

func watchCommand(args []string) error {
	fs := newFlagSet("watch")
	cfgPath, url := clientFlags(fs)
	record := fs.Bool("record", false, "Also record received samples to the data directory")
	dir := fs.String("dir", "", "Data directory for -record (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, cfg, log, err := dial(*cfgPath, *url)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	samples, errc, err := c.Stream(ctx)
	if err != nil {
		return err
	}
	go streamErrors(log, errc)

	var rec *store.DiskStore
	if *record {
		if *dir == "" {
			*dir = cfg.Store.Dir
		}
		if rec, err = store.New(*dir); err != nil {
			return err
		}
		defer rec.Close()
	}

	p := tea.NewProgram(monitor.New(ctx, c, samples, rec), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

func historyCommand(args []string) error {
	fs := newFlagSet("history")
	cfgPath := fs.String("config", config.DefaultPath, "Path to configuration file")
	dir := fs.String("dir", "", "Data directory (default from config)")
	threshold := fs.Float64("threshold", 0, "Alert threshold in degrees (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *dir == "" {
		*dir = cfg.Store.Dir
	}
	if *threshold == 0 {
		*threshold = float64(cfg.DeviceConfig().ThresholdMC) / 1000
	}
	return viewer.Run(*dir, *threshold)
}

// records turns the sample stream into store records stamped with the
// receipt time and device id.
func records(ctx context.Context, deviceID string, samples <-chan sample.Sample) <-chan store.Record {
	out := make(chan store.Record, 64)
	go func() {
		defer close(out)
		for s := range samples {
			select {
			case out <- store.Record{Time: time.Now(), Device: deviceID, Sample: s}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func recordCommand(args []string) error {
	fs := newFlagSet("record")
	cfgPath, url := clientFlags(fs)
	dir := fs.String("dir", "", "CSV data directory (default from config)")
	dsn := fs.String("postgres", "", "Postgres DSN (default from config; empty disables)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, cfg, log, err := dial(*cfgPath, *url)
	if err != nil {
		return err
	}
	if *dir == "" {
		*dir = cfg.Store.Dir
	}
	if *dsn == "" {
		*dsn = cfg.Store.PostgresDSN
	}

	ctx, stop := signalContext()
	defer stop()

	info, err := c.Info(ctx)
	if err != nil {
		return fmt.Errorf("device info: %w", err)
	}

	disk, err := store.New(*dir)
	if err != nil {
		return err
	}
	sinks := []store.Sink{disk}

	if *dsn != "" {
		pg, err := store.OpenPostgres(*dsn, cfg.Store.Table)
		if err != nil {
			disk.Close()
			return err
		}
		if err := pg.Migrate(); err != nil {
			disk.Close()
			pg.Close()
			return fmt.Errorf("migrate: %w", err)
		}
		sinks = append(sinks, pg)
	}

	samples, errc, err := c.Stream(ctx)
	if err != nil {
		for _, s := range sinks {
			s.Close()
		}
		return err
	}
	go streamErrors(log, errc)

	log.Info("simtemp: recording", "device", info.ID, "dir", disk.Dir(), "postgres", *dsn != "")
	b := store.NewBatcher(cfg.Store.BatchSize, cfg.Store.FlushInterval, log, sinks...)
	err = b.Run(ctx, records(ctx, info.ID, samples))
	log.Info("simtemp: recording stopped", "written", b.Written, "failed_batches", b.Failed)
	return err
}

func bridgeCommand(args []string) error {
	fs := newFlagSet("bridge")
	cfgPath, url := clientFlags(fs)
	broker := fs.String("broker", "", "MQTT broker host:port or URL (default from config)")
	telemetry := fs.Bool("telemetry", false, "Publish every sample, not only alerts")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, cfg, log, err := dial(*cfgPath, *url)
	if err != nil {
		return err
	}
	if *broker == "" {
		*broker = cfg.MQTT.Broker
	}
	if *broker == "" {
		return errors.New("no MQTT broker configured")
	}

	ctx, stop := signalContext()
	defer stop()

	info, err := c.Info(ctx)
	if err != nil {
		return fmt.Errorf("device info: %w", err)
	}

	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = "simtemp-bridge-" + uuid.NewString()[:8]
	}
	pub, err := bridge.Dial(ctx, *broker, clientID, cfg.MQTT.TopicPrefix, info.ID, log)
	if err != nil {
		return err
	}
	defer pub.Close()

	samples, errc, err := c.Stream(ctx)
	if err != nil {
		return err
	}
	go streamErrors(log, errc)

	br := bridge.New(pub, bridge.Options{
		DeviceID:    info.ID,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		QoS:         cfg.MQTT.QoS,
		Telemetry:   *telemetry || cfg.MQTT.Telemetry,
		Logger:      log,
	})
	log.Info("simtemp: bridging", "device", info.ID, "alerts", br.AlertTopic())

	err = br.Run(ctx, samples)
	st := br.Stats()
	log.Info("simtemp: bridge stopped", "alerts", st.Alerts, "telemetry", st.Telemetry, "errors", st.Errors)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var _ monitor.Controller = (*client.Client)(nil)
