// Package clock provides the timer scheduling used by the voice controllers.
//
// Every heuristic wait in the system (silence timeout, cancellation settling,
// validity checks, re-listen arming) goes through an [AfterFunc] so that tests
// can replace wall-clock timers with a [Manual] clock.
package clock

import (
	"slices"
	"sync"
	"time"
)

// Timer is a scheduled callback that can be stopped before it fires.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call
	// stopped the timer.
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

// Real schedules f using [time.AfterFunc].
func Real(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Manual is a deterministic clock. Timers fire only when [Manual.Advance] moves
// the clock past their deadline.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	clock    *Manual
	deadline time.Time
	seq      int
	f        func()
	stopped  bool
	fired    bool
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	timer := &manualTimer{clock: m, deadline: m.now.Add(d), seq: m.seq, f: f}
	m.timers = append(m.timers, timer)
	return timer
}

// Advance moves the clock forward by d and runs every timer that became due,
// in deadline order. Callbacks run on the calling goroutine without the clock
// lock held, so they may schedule further timers; those also fire if they are
// due before the new time.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextDueLocked(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		next.fired = true
		if next.deadline.After(m.now) {
			m.now = next.deadline
		}
		m.mu.Unlock()

		next.f()
	}
}

// Pending reports how many timers are scheduled and neither fired nor stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := 0
	for _, timer := range m.timers {
		if !timer.stopped && !timer.fired {
			pending++
		}
	}
	return pending
}

func (m *Manual) nextDueLocked(target time.Time) *manualTimer {
	m.timers = slices.DeleteFunc(m.timers, func(t *manualTimer) bool { return t.stopped || t.fired })

	var next *manualTimer
	for _, timer := range m.timers {
		if timer.deadline.After(target) {
			continue
		}
		if next == nil || timer.deadline.Before(next.deadline) ||
			(timer.deadline.Equal(next.deadline) && timer.seq < next.seq) {
			next = timer
		}
	}
	return next
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
