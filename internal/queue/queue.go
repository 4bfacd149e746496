// Package queue implements the fixed-capacity sample ring that bridges the
// producer and blocking readers.
package queue

import (
	"sync"

	"github.com/luki/simtemp/internal/sample"
)

// Capacity is the fixed number of samples the ring holds.
const Capacity = 64

// Ring is a bounded FIFO of samples with a drop-newest policy: Enqueue on a
// full ring fails without evicting anything. The mutex is held for O(1) work
// only and nothing in this package blocks while holding it.
type Ring struct {
	mu    sync.Mutex
	items [Capacity]sample.Sample
	head  int // next item to leave
	tail  int // next free slot
	count int
}

// New returns an empty ring.
func New() *Ring {
	return &Ring{}
}

// Enqueue appends s. It returns false if the ring is full.
func (r *Ring) Enqueue(s sample.Sample) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == Capacity {
		return false
	}
	r.items[r.tail] = s
	r.tail = (r.tail + 1) % Capacity
	r.count++
	return true
}

// Dequeue removes and returns the oldest sample; ok is false if empty.
func (r *Ring) Dequeue() (s sample.Sample, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return sample.Sample{}, false
	}
	s = r.items[r.head]
	r.head = (r.head + 1) % Capacity
	r.count--
	return s, true
}

// Len returns the current occupancy.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the fixed capacity.
func (r *Ring) Cap() int { return Capacity }

// Usage returns occupancy as a whole percentage of capacity.
func (r *Ring) Usage() uint32 {
	return uint32(r.Len() * 100 / Capacity)
}

// Clear discards every queued sample and returns how many were dropped.
func (r *Ring) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.count
	r.head, r.tail, r.count = 0, 0, 0
	return n
}
