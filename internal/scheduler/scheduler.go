// Package scheduler drives periodic sample production with a two-stage
// dispatch: a timer callback that only hands off, and a worker goroutine
// that runs the actual work.
//
// The timer callback runs in the time-critical context. It never calls the
// work function; it posts to a one-slot pending channel (coalescing ticks
// while a run is outstanding) and re-arms itself forward from now. Each
// armed generation owns one worker goroutine, and a generation does not
// start running work until the previous one has exited, so the work
// function is never re-entered.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats are lifetime counters for the scheduler.
type Stats struct {
	Ticks     uint64 // timer firings that reached an armed generation
	Runs      uint64 // completed work invocations
	Coalesced uint64 // ticks dropped because a run was already pending
}

type generation struct {
	id      uint64
	timer   *time.Timer
	pending chan struct{}
	stop    chan struct{}
	exited  chan struct{}
}

// Scheduler is a Disabled <-> Armed state machine.
type Scheduler struct {
	period func() time.Duration
	work   func()

	mu     sync.Mutex
	gen    *generation // nil while disabled
	nextID uint64
	last   chan struct{} // exited channel of the most recent generation

	ticks     atomic.Uint64
	runs      atomic.Uint64
	coalesced atomic.Uint64
}

// New returns a disabled scheduler. period is re-read on every re-arm.
func New(period func() time.Duration, work func()) *Scheduler {
	done := make(chan struct{})
	close(done)
	return &Scheduler{
		period: period,
		work:   work,
		last:   done,
	}
}

// Armed reports whether the scheduler is armed.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != nil
}

// Enable arms the periodic trigger. It returns false if already armed.
func (s *Scheduler) Enable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != nil {
		return false
	}

	s.nextID++
	g := &generation{
		id:      s.nextID,
		pending: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	prev := s.last
	s.gen = g
	s.last = g.exited

	go s.run(g, prev)
	g.timer = time.AfterFunc(s.period(), func() { s.tick(g) })
	return true
}

// Disarm moves to Disabled and cancels the pending trigger without waiting.
// The returned channel is closed once in-flight work has finished. Calling
// Disarm while disabled returns the barrier of the last generation and
// false.
func (s *Scheduler) Disarm() (<-chan struct{}, bool) {
	return s.disarm()
}

// Disable disarms and waits for in-flight work. It returns false if the
// scheduler was already disabled (it still waits for the last generation).
func (s *Scheduler) Disable() bool {
	done, wasArmed := s.disarm()
	<-done
	return wasArmed
}

func (s *Scheduler) disarm() (<-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.gen
	if g == nil {
		return s.last, false
	}
	s.gen = nil
	g.timer.Stop()
	close(g.stop)
	return g.exited, true
}

// Stats returns a snapshot of the lifetime counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:     s.ticks.Load(),
		Runs:      s.runs.Load(),
		Coalesced: s.coalesced.Load(),
	}
}

// tick runs in the timer's goroutine: hand off, re-arm, return.
func (s *Scheduler) tick(g *generation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != g {
		return // stale tick from an earlier generation
	}
	s.ticks.Add(1)

	select {
	case g.pending <- struct{}{}:
	default:
		s.coalesced.Add(1)
	}

	g.timer.Reset(s.period())
}

func (s *Scheduler) run(g *generation, prev <-chan struct{}) {
	defer close(g.exited)

	select {
	case <-prev:
	case <-g.stop:
		<-prev // keep the barrier transitive
		return
	}

	for {
		select {
		case <-g.stop:
			return
		case <-g.pending:
		}

		// stop and pending may both be ready; stop wins.
		select {
		case <-g.stop:
			return
		default:
		}

		s.work()
		s.runs.Add(1)
	}
}
