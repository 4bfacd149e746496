package store

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Batcher groups incoming records and writes each batch to every sink.
// A batch is written when it reaches size records or interval has passed
// since the last write, whichever comes first.
type Batcher struct {
	sinks    []Sink
	size     int
	interval time.Duration
	log      *slog.Logger

	Written int // records handed to the sinks
	Failed  int // sink write failures
}

// NewBatcher returns a batcher over sinks. Non-positive size and interval
// fall back to 64 records and one second.
func NewBatcher(size int, interval time.Duration, log *slog.Logger, sinks ...Sink) *Batcher {
	if size <= 0 {
		size = 64
	}
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Batcher{sinks: sinks, size: size, interval: interval, log: log}
}

// Run consumes in until it is closed or ctx ends, then writes what is
// left and closes the sinks. A failing sink is logged and the batch is
// dropped for that sink only.
func (b *Batcher) Run(ctx context.Context, in <-chan Record) error {
	batch := make([]Record, 0, b.size)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		for _, s := range b.sinks {
			start := time.Now()
			if err := s.WriteBatch(batch); err != nil {
				b.Failed++
				b.log.Error("simtemp: sink write failed", "sink", s.Name(), "records", len(batch), "err", err)
				continue
			}
			b.log.Debug("simtemp: batch written", "sink", s.Name(), "records", len(batch), "took", time.Since(start))
		}
		b.Written += len(batch)
		batch = batch[:0]
	}

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break loop
		case r, ok := <-in:
			if !ok {
				break loop
			}
			batch = append(batch, r)
			if len(batch) >= b.size {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
	flush()

	var closeErr error
	for _, s := range b.sinks {
		closeErr = errors.Join(closeErr, s.Close())
	}
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	return errors.Join(runErr, closeErr)
}
