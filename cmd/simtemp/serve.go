package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/luki/simtemp/internal/config"
	"github.com/luki/simtemp/internal/device"
	"github.com/luki/simtemp/internal/metrics"
	"github.com/luki/simtemp/internal/sensor"
	"github.com/luki/simtemp/internal/server"
)

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ExitOnError)
}

func serveCommand(args []string) error {
	fs := newFlagSet("serve")
	cfgPath := fs.String("config", config.DefaultPath, "Path to configuration file")
	addr := fs.String("addr", "", "Listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, log, err := setup(*cfgPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	id := uuid.New()
	opts := []device.Option{
		device.WithID(id),
		device.WithLogger(log),
		device.WithObserver(metrics.NewPromObs(reg, id.String())),
	}
	src, err := deviceSource(cfg.Device, log)
	if err != nil {
		return err
	}
	if src != nil {
		opts = append(opts, device.WithSource(src))
	}

	dev, err := device.New(cfg.DeviceConfig(), opts...)
	if err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	defer dev.Close()

	if *cfg.Device.Enabled {
		if err := dev.Enable(); err != nil {
			return err
		}
	}

	ctx, stop := signalContext()
	defer stop()

	// Detaching wakes blocked readers and ends streams so shutdown does
	// not wait on them.
	go func() {
		<-ctx.Done()
		dev.Close()
	}()

	srv := server.New(dev,
		server.WithLogger(log),
		server.WithGatherer(reg),
		server.WithMaxPollWait(cfg.Server.MaxPollWait),
	)
	return srv.ListenAndServe(ctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout)
}

// deviceSource returns the host sensor source the config asks for, or nil
// for the synthetic waveform.
func deviceSource(dc config.DeviceConfig, log *slog.Logger) (device.Source, error) {
	if dc.Source == "" || dc.Source == config.SourceWaveform {
		return nil, nil
	}
	zones, err := sensor.Discover(dc.SysfsRoot)
	if err != nil {
		return nil, err
	}
	name := dc.Source
	if name == config.SourceHost {
		name = ""
	}
	z, err := sensor.Select(zones, name)
	if err != nil {
		return nil, err
	}
	src, err := sensor.NewSource(z, log)
	if err != nil {
		return nil, fmt.Errorf("open sensor %s: %w", z.Key(), err)
	}
	log.Info("simtemp: following host sensor", "zone", z.Key(), "component", sensor.FriendlyName(z.Chip))
	return src, nil
}

func sensorsCommand(args []string) error {
	fs := newFlagSet("sensors")
	root := fs.String("root", sensor.DefaultRoot, "sysfs mount point")
	if err := fs.Parse(args); err != nil {
		return err
	}

	zones, err := sensor.Discover(*root)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tCOMPONENT\tTEMP")
	for _, z := range zones {
		temp := "?"
		if v, err := z.ReadMC(); err == nil {
			temp = fmt.Sprintf("%.1f°C", float64(v)/1000)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", z.Key(), sensor.FriendlyName(z.Chip), temp)
	}
	return tw.Flush()
}
