package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/luki/simtemp/internal/config"
	"github.com/luki/simtemp/internal/device"
	"github.com/luki/simtemp/internal/waveform"
)

type stressOptions struct {
	Readers    int
	Pollers    int
	Duration   time.Duration
	SamplingMS uint32
	Churn      bool // toggle enable and rotate config while running
}

type stressReport struct {
	Read       int
	Duplicates int
	Left       int // still queued at the end
	Stats      device.Stats
}

// Balanced reports whether every enqueued sample was either read exactly
// once or left queued.
func (r stressReport) Balanced() bool {
	return r.Duplicates == 0 && uint64(r.Read+r.Left) == r.Stats.Updates
}

func stressCommand(args []string) error {
	fs := newFlagSet("stress")
	readers := fs.Int("readers", 4, "Concurrent blocking readers")
	pollers := fs.Int("pollers", 2, "Concurrent pollers")
	duration := fs.Duration("duration", 10*time.Second, "How long to run")
	samplingMS := fs.Uint("sampling-ms", 1, "Sampling period in milliseconds")
	churn := fs.Bool("churn", true, "Toggle enable and rotate config while running")
	if err := fs.Parse(args); err != nil {
		return err
	}

	period, err := samplingFlag(*samplingMS)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	fmt.Printf("Stressing: %d readers, %d pollers, %dms sampling for %s\n",
		*readers, *pollers, *samplingMS, *duration)
	fmt.Println("Press Ctrl+C to stop early")
	fmt.Println()

	rep, err := runStress(ctx, stressOptions{
		Readers:    *readers,
		Pollers:    *pollers,
		Duration:   *duration,
		SamplingMS: period,
		Churn:      *churn,
	})
	if err != nil {
		return err
	}
	printStressReport(os.Stdout, rep)
	if !rep.Balanced() {
		return errors.New("sample accounting does not balance")
	}
	return nil
}

func runStress(ctx context.Context, opts stressOptions) (stressReport, error) {
	log, err := newLogger(config.LogConfig{Level: "error"})
	if err != nil {
		return stressReport{}, err
	}
	dev, err := device.New(device.Config{
		SamplingMS:  opts.SamplingMS,
		ThresholdMC: device.DefaultThresholdMC,
		Mode:        waveform.Noisy,
	}, device.WithLogger(log))
	if err != nil {
		return stressReport{}, err
	}
	defer dev.Close()

	ctx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	var (
		mu   sync.Mutex
		seen = make(map[uint64]int)
		wg   sync.WaitGroup
	)

	for i := 0; i < opts.Readers; i++ {
		h, err := dev.Open(false)
		if err != nil {
			return stressReport{}, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer h.Close()
			for {
				s, err := h.ReadSample(ctx)
				switch {
				case err == nil:
					mu.Lock()
					seen[s.Timestamp]++
					mu.Unlock()
				case errors.Is(err, device.ErrTemporarilyUnavailable):
				default:
					return
				}
			}
		}()
	}

	for i := 0; i < opts.Pollers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, wake := dev.Poll()
				select {
				case <-wake:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	if opts.Churn {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(25 * time.Millisecond)
			defer ticker.Stop()
			for n := 0; ; n++ {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
				switch n % 4 {
				case 0:
					dev.Disable()
				case 1:
					dev.Enable()
				case 2:
					cfg := dev.Config()
					cfg.Mode = waveform.Modes[n%len(waveform.Modes)]
					dev.SetConfig(cfg)
				case 3:
					cfg := dev.Config()
					cfg.ThresholdMC = device.DefaultThresholdMC + int32(n%5-2)*1000
					dev.SetConfig(cfg)
				}
			}
		}()
	}

	if err := dev.Enable(); err != nil {
		return stressReport{}, err
	}
	wg.Wait()
	dev.Disable()

	var rep stressReport
	for _, n := range seen {
		rep.Read += n
		if n > 1 {
			rep.Duplicates += n - 1
		}
	}
	rep.Left = dev.Flush()
	rep.Stats = dev.Stats()
	return rep, nil
}

func printStressReport(w io.Writer, r stressReport) {
	fmt.Fprintf(w, "  produced   %d\n", r.Stats.Updates+r.Stats.Overflows)
	fmt.Fprintf(w, "  enqueued   %d\n", r.Stats.Updates)
	fmt.Fprintf(w, "  read       %d\n", r.Read)
	fmt.Fprintf(w, "  overflowed %d\n", r.Stats.Overflows)
	fmt.Fprintf(w, "  left       %d\n", r.Left)
	fmt.Fprintf(w, "  duplicates %d\n", r.Duplicates)
	fmt.Fprintf(w, "  alerts     %d\n", r.Stats.Alerts)
	fmt.Fprintf(w, "  polls      %d\n", r.Stats.PollCalls)
	if r.Balanced() {
		fmt.Fprintln(w, "  OK: every sample accounted for exactly once")
	} else {
		fmt.Fprintln(w, "  FAIL: sample accounting does not balance")
	}
}
