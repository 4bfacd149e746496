package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luki/simtemp/internal/sample"
)

type memSink struct {
	mu      sync.Mutex
	batches [][]Record
	fail    error
	closed  bool
}

func (m *memSink) Name() string { return "mem" }

func (m *memSink) WriteBatch(recs []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.batches = append(m.batches, append([]Record(nil), recs...))
	return nil
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func feed(n int) <-chan Record {
	ch := make(chan Record, n)
	for i := 0; i < n; i++ {
		ch <- Record{Time: time.Now(), Device: "d", Sample: sample.Sample{Timestamp: uint64(i + 1)}}
	}
	close(ch)
	return ch
}

func TestBatcherSplitsBySize(t *testing.T) {
	sink := &memSink{}
	b := NewBatcher(4, time.Hour, quiet, sink)

	require.NoError(t, b.Run(context.Background(), feed(10)))

	var sizes []int
	for _, batch := range sink.batches {
		sizes = append(sizes, len(batch))
	}
	require.Equal(t, []int{4, 4, 2}, sizes)
	require.Equal(t, 10, b.Written)
	require.True(t, sink.closed)
}

func TestBatcherFlushesOnInterval(t *testing.T) {
	sink := &memSink{}
	b := NewBatcher(100, 10*time.Millisecond, quiet, sink)

	in := make(chan Record)
	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background(), in) }()

	in <- Record{Device: "d"}
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.batches) == 1
	}, 2*time.Second, 5*time.Millisecond, "interval flush did not happen")

	close(in)
	require.NoError(t, <-done)
}

func TestBatcherIsolatesFailingSink(t *testing.T) {
	good := &memSink{}
	bad := &memSink{fail: errors.New("db down")}
	b := NewBatcher(5, time.Hour, quiet, bad, good)

	require.NoError(t, b.Run(context.Background(), feed(5)))
	require.Len(t, good.batches, 1)
	require.Equal(t, 1, b.Failed)
}

func TestBatcherCancelWritesRemainder(t *testing.T) {
	sink := &memSink{}
	b := NewBatcher(100, time.Hour, quiet, sink)

	in := make(chan Record, 3)
	for i := 0; i < 3; i++ {
		in <- Record{Device: "d"}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, in) }()

	require.Eventually(t, func() bool { return len(in) == 0 }, 2*time.Second, time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	require.Equal(t, 3, b.Written)
}
