// Package fake
// Author: momentics <momentics@gmail.com>
//
// Manual-clock scheduler: timers fire only when the test advances time.

package fake

import (
	"sort"
	"sync"
	"time"

	"github.com/momentics/hioload-upgrade/api"
)

// Scheduler implements api.Scheduler and api.Poster with a virtual clock.
type Scheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*Timer
	posted []func()
	stops  int
}

// NewScheduler returns a scheduler whose clock starts at a fixed instant.
func NewScheduler() *Scheduler {
	return &Scheduler{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Timer is a fake api.Timer.
type Timer struct {
	s       *Scheduler
	when    time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

// Stop implements api.Timer.
func (t *Timer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.s.stops++
	return true
}

// AfterFunc implements api.Scheduler.
func (s *Scheduler) AfterFunc(d time.Duration, fn func()) api.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &Timer{s: s, when: s.now.Add(d), seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// Now implements api.Scheduler.
func (s *Scheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Post implements api.Poster. Callbacks run on RunPosted.
func (s *Scheduler) Post(fn func()) error {
	s.mu.Lock()
	s.posted = append(s.posted, fn)
	s.mu.Unlock()
	return nil
}

// RunPosted runs queued Post callbacks in order.
func (s *Scheduler) RunPosted() int {
	s.mu.Lock()
	fns := s.posted
	s.posted = nil
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// Advance moves the clock forward by d and fires every timer that became
// due, earliest first. Timers scheduled by callbacks fire too when they fall
// within the window.
func (s *Scheduler) Advance(d time.Duration) {
	s.mu.Lock()
	deadline := s.now.Add(d)
	s.mu.Unlock()
	for {
		t := s.nextDue(deadline)
		if t == nil {
			break
		}
		t.fn()
	}
	s.mu.Lock()
	s.now = deadline
	s.mu.Unlock()
}

func (s *Scheduler) nextDue(deadline time.Time) *Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	s.timers = live
	sort.Slice(s.timers, func(i, j int) bool {
		if s.timers[i].when.Equal(s.timers[j].when) {
			return s.timers[i].seq < s.timers[j].seq
		}
		return s.timers[i].when.Before(s.timers[j].when)
	})
	if len(s.timers) == 0 || s.timers[0].when.After(deadline) {
		return nil
	}
	t := s.timers[0]
	t.fired = true
	if t.when.After(s.now) {
		s.now = t.when
	}
	return t
}

// Active returns the number of timers that are neither stopped nor fired.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Stops returns how many timers were cancelled successfully.
func (s *Scheduler) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// Poller records the interest set requested by a connection.
type Poller struct {
	mu    sync.Mutex
	read  bool
	write bool
	calls int
}

// NewPoller returns a poller with read interest enabled.
func NewPoller() *Poller { return &Poller{read: true} }

// SetInterest implements api.Poller.
func (p *Poller) SetInterest(read, write bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.read, p.write = read, write
	p.calls++
	return nil
}

// Interest returns the last requested interest set.
func (p *Poller) Interest() (read, write bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.read, p.write
}

// Calls returns how many times SetInterest was called.
func (p *Poller) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
