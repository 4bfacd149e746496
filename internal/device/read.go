package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/luki/simtemp/internal/sample"
)

// notifier is a broadcast wakeup. Every broadcast closes the current channel
// and installs a fresh one, so all waiters that fetched the old channel wake.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func (n *notifier) init() {
	n.ch = make(chan struct{})
}

func (n *notifier) wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

func (n *notifier) broadcast() {
	n.mu.Lock()
	close(n.ch)
	n.ch = make(chan struct{})
	n.mu.Unlock()
}

// Read returns the oldest queued sample. Every call counts in ReadCalls,
// including ones that fail.
//
// Non-blocking reads on an empty queue fail with ErrWouldBlock. Blocking
// reads wait for the next wakeup or ctx, then retry the dequeue exactly
// once; a lost race with another reader yields ErrTemporarilyUnavailable.
// Each sample is delivered to at most one reader.
func (d *Device) Read(ctx context.Context, blocking bool) (sample.Sample, error) {
	d.countRead()
	s, err := d.read(ctx, blocking)
	d.obs.ObserveRead(err)
	return s, err
}

func (d *Device) read(ctx context.Context, blocking bool) (sample.Sample, error) {
	if d.closed.Load() {
		return sample.Sample{}, ErrClosed
	}

	// Fetch the wakeup before looking at the queue so an enqueue between
	// the check and the wait is not missed.
	wake := d.wake.wait()
	if s, ok := d.ring.Dequeue(); ok {
		return s, nil
	}
	if !blocking {
		return sample.Sample{}, ErrWouldBlock
	}

	select {
	case <-wake:
	case <-ctx.Done():
		return sample.Sample{}, ctx.Err()
	}

	if d.closed.Load() {
		return sample.Sample{}, ErrClosed
	}
	if s, ok := d.ring.Dequeue(); ok {
		return s, nil
	}
	return sample.Sample{}, ErrTemporarilyUnavailable
}

// Poll reports whether a sample is ready and returns a channel that is closed
// on the next wakeup. Every call counts in PollCalls.
func (d *Device) Poll() (bool, <-chan struct{}) {
	d.countPoll()
	wake := d.wake.wait()
	ready := d.ring.Len() > 0
	d.obs.ObservePoll(ready)
	return ready, wake
}

// Handle is one open reader on the device. It implements io.Reader, copying
// exactly one record per successful call.
type Handle struct {
	d        *Device
	nonblock bool
	closed   atomic.Bool
}

// Open returns a new reader handle. nonblock selects non-blocking reads.
func (d *Device) Open(nonblock bool) (*Handle, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	n := d.openCount.Add(1)
	d.log.Debug("simtemp: handle opened", "open", n, "nonblock", nonblock)
	return &Handle{d: d, nonblock: nonblock}, nil
}

// Read implements io.Reader. p must hold at least one record; only the first
// sample.Size bytes are written.
func (h *Handle) Read(p []byte) (int, error) {
	return h.ReadContext(context.Background(), p)
}

// ReadContext is Read with cancellation for blocking handles.
func (h *Handle) ReadContext(ctx context.Context, p []byte) (int, error) {
	if h.closed.Load() {
		return 0, ErrClosed
	}
	if len(p) < sample.Size {
		h.d.countRead()
		err := fmt.Errorf("%w: buffer of %d bytes, need %d", ErrInvalidArgument, len(p), sample.Size)
		h.d.obs.ObserveRead(err)
		return 0, err
	}
	s, err := h.ReadSample(ctx)
	if err != nil {
		return 0, err
	}
	b, err := s.AppendBinary(p[:0])
	return len(b), err
}

// ReadSample reads one decoded sample.
func (h *Handle) ReadSample(ctx context.Context) (sample.Sample, error) {
	if h.closed.Load() {
		return sample.Sample{}, ErrClosed
	}
	return h.d.Read(ctx, !h.nonblock)
}

// Poll is Device.Poll through the handle.
func (h *Handle) Poll() (bool, <-chan struct{}) {
	return h.d.Poll()
}

// Close releases the handle.
func (h *Handle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	n := h.d.openCount.Add(-1)
	h.d.log.Debug("simtemp: handle closed", "open", n)
	return nil
}
