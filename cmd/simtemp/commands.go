package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/luki/simtemp/internal/client"
	"github.com/luki/simtemp/internal/config"
	"github.com/luki/simtemp/internal/device"
	"github.com/luki/simtemp/internal/sample"
	"github.com/luki/simtemp/internal/waveform"
)

// clientFlags registers the flags every client command shares.
func clientFlags(fs *flag.FlagSet) (cfgPath, url *string) {
	cfgPath = fs.String("config", config.DefaultPath, "Path to configuration file")
	url = fs.String("url", "", "Server URL (default from config)")
	return cfgPath, url
}

// formatSample renders one record the way the read command prints it.
func formatSample(at time.Time, s sample.Sample) string {
	alert := 0
	if s.Crossed() {
		alert = 1
	}
	return fmt.Sprintf("%s ts=%d temp=%.3fC alert=%d",
		at.UTC().Format("2006-01-02T15:04:05.000Z"), s.Timestamp, s.Celsius(), alert)
}

type jsonSample struct {
	Time        time.Time `json:"time"`
	TimestampNS uint64    `json:"timestamp_ns"`
	TempMC      int32     `json:"temp_mC"`
	Flags       string    `json:"flags"`
	Alert       bool      `json:"alert"`
}

func readCommand(args []string) error {
	fs := newFlagSet("read")
	cfgPath, url := clientFlags(fs)
	n := fs.Int("n", 0, "Number of samples to read (0 = until interrupted)")
	nonblock := fs.Bool("nonblock", false, "Fail instead of waiting when no sample is queued")
	timeout := fs.Duration("timeout", 0, "Per-read timeout for blocking reads (0 = none)")
	asJSON := fs.Bool("json", false, "Print one JSON object per sample")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, _, _, err := dial(*cfgPath, *url)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	enc := json.NewEncoder(os.Stdout)
	for i := 0; *n == 0 || i < *n; i++ {
		s, err := readOne(ctx, c, *nonblock, *timeout)
		switch {
		case errors.Is(err, device.ErrTemporarilyUnavailable):
			i--
			continue
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return err
		}

		now := time.Now()
		if *asJSON {
			if err := enc.Encode(jsonSample{
				Time:        now,
				TimestampNS: s.Timestamp,
				TempMC:      s.TempMC,
				Flags:       s.Flags.String(),
				Alert:       s.Crossed(),
			}); err != nil {
				return err
			}
			continue
		}
		fmt.Println(formatSample(now, s))
	}
	return nil
}

func readOne(ctx context.Context, c *client.Client, nonblock bool, timeout time.Duration) (sample.Sample, error) {
	if timeout > 0 && !nonblock {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.Read(ctx, nonblock)
}

func configCommand(args []string) error {
	fs := newFlagSet("config")
	cfgPath, url := clientFlags(fs)
	samplingMS := fs.Uint("sampling-ms", 0, "Sampling period in milliseconds")
	thresholdMC := fs.Int("threshold-mc", 0, "Alert threshold in milli-degrees Celsius")
	mode := fs.String("mode", "", "Waveform mode: normal, noisy or ramp")
	if err := fs.Parse(args); err != nil {
		return err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	update, err := configUpdate(set, *samplingMS, *thresholdMC, *mode)
	if err != nil {
		return err
	}

	c, _, _, err := dial(*cfgPath, *url)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	var cfg device.Config
	if update != nil {
		cfg, err = c.UpdateConfig(ctx, update)
	} else {
		cfg, err = c.Config(ctx)
	}
	if err != nil {
		return err
	}

	fmt.Printf("sampling_ms: %d\nthreshold_mC: %d\nmode: %s\n", cfg.SamplingMS, cfg.ThresholdMC, cfg.Mode)
	return nil
}

// configUpdate turns the flags the user set into a config mutation. It
// returns nil when nothing was set. Values that do not fit the device's
// field widths are rejected rather than truncated.
func configUpdate(set map[string]bool, samplingMS uint, thresholdMC int, mode string) (func(*device.Config), error) {
	if !set["sampling-ms"] && !set["threshold-mc"] && !set["mode"] {
		return nil, nil
	}

	var (
		period uint32
		th     int32
		m      waveform.Mode
		err    error
	)
	if set["sampling-ms"] {
		if period, err = samplingFlag(samplingMS); err != nil {
			return nil, err
		}
	}
	if set["threshold-mc"] {
		if th, err = thresholdFlag(thresholdMC); err != nil {
			return nil, err
		}
	}
	if set["mode"] {
		if m, err = waveform.ParseMode(mode); err != nil {
			return nil, err
		}
	}

	return func(cfg *device.Config) {
		if set["sampling-ms"] {
			cfg.SamplingMS = period
		}
		if set["threshold-mc"] {
			cfg.ThresholdMC = th
		}
		if set["mode"] {
			cfg.Mode = m
		}
	}, nil
}

func samplingFlag(v uint) (uint32, error) {
	if uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: sampling_ms %d out of range", device.ErrInvalidArgument, v)
	}
	return uint32(v), nil
}

func thresholdFlag(v int) (int32, error) {
	if int64(v) < math.MinInt32 || int64(v) > math.MaxInt32 {
		return 0, fmt.Errorf("%w: threshold_mC %d out of range", device.ErrInvalidArgument, v)
	}
	return int32(v), nil
}

func statsCommand(args []string) error {
	fs := newFlagSet("stats")
	cfgPath, url := clientFlags(fs)
	interval := fs.Duration("interval", 0, "Refresh interval (0 = print once)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, _, _, err := dial(*cfgPath, *url)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	show := func() error {
		st, err := c.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Print(st.String())
		return nil
	}
	if *interval <= 0 {
		return show()
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		if err := show(); err != nil {
			fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fmt.Println()
		}
	}
}

func ctlCommand(args []string) error {
	fs := newFlagSet("ctl")
	cfgPath, url := clientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: simtemp ctl enable|disable|flush|reset|info")
	}

	c, _, _, err := dial(*cfgPath, *url)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	switch op := fs.Arg(0); op {
	case "enable":
		return c.Enable(ctx)
	case "disable":
		return c.Disable(ctx)
	case "flush":
		n, err := c.Flush(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("dropped %d samples\n", n)
	case "reset":
		st, err := c.ResetStats(ctx)
		if err != nil {
			return err
		}
		fmt.Print(st.String())
	case "info":
		info, err := c.Info(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("id: %s\nenabled: %v\nopen_handles: %d\nlast_temp_mC: %d\nticks: %d\nruns: %d\ncoalesced: %d\n",
			info.ID, info.Enabled, info.OpenHandles, info.LastTempMC, info.Ticks, info.Runs, info.Coalesced)
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
	return nil
}

func attrCommand(args []string) error {
	fs := newFlagSet("attr")
	cfgPath, url := clientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fmt.Println(strings.Join(device.Attrs, "\n"))
		return nil
	}
	if fs.NArg() > 2 {
		return errors.New("usage: simtemp attr [name [value]]")
	}

	c, _, _, err := dial(*cfgPath, *url)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	name := fs.Arg(0)
	if fs.NArg() == 2 {
		return c.WriteAttr(ctx, name, fs.Arg(1))
	}
	v, err := c.ReadAttr(ctx, name)
	if err != nil {
		return err
	}
	fmt.Print(v)
	return nil
}

// selftestThresholdMC lies below every waveform, so the first sample after
// attach crosses it upward.
const selftestThresholdMC = waveform.BaseMC - waveform.RangeMC - waveform.NoiseMC - 1000

// selftestCommand drives an in-process device: with a threshold below the
// waveform, an alert must arrive within two sampling periods.
func selftestCommand(args []string) error {
	fs := newFlagSet("selftest")
	samplingMS := fs.Uint("sampling-ms", 100, "Sampling period in milliseconds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	period, err := samplingFlag(*samplingMS)
	if err != nil {
		return err
	}
	return runSelftest(os.Stdout, period)
}

func runSelftest(out io.Writer, samplingMS uint32) error {
	log, err := newLogger(config.LogConfig{Level: "warn"})
	if err != nil {
		return err
	}
	dev, err := device.New(device.Config{
		SamplingMS:  samplingMS,
		ThresholdMC: selftestThresholdMC,
		Mode:        waveform.Normal,
	}, device.WithLogger(log))
	if err != nil {
		return err
	}
	defer dev.Close()

	h, err := dev.Open(false)
	if err != nil {
		return err
	}
	defer h.Close()

	if err := dev.Enable(); err != nil {
		return err
	}

	period := time.Duration(samplingMS) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 2*period+50*time.Millisecond)
	defer cancel()

	start := time.Now()
	for {
		s, err := h.ReadSample(ctx)
		switch {
		case errors.Is(err, device.ErrTemporarilyUnavailable):
			continue
		case err != nil:
			fmt.Fprintf(out, "FAIL: no alert within %s: %v\n", 2*period, err)
			return errors.New("selftest failed")
		}
		if s.Crossed() {
			fmt.Fprintf(out, "PASS: alert after %s (%s)\n",
				time.Since(start).Round(time.Millisecond), formatSample(time.Now(), s))
			return nil
		}
	}
}
