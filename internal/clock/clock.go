// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package clock abstracts wall time and one-shot timers so time-driven
// state machines can be driven deterministically in tests.
//
// # Key Types
//
//   - Clock: source of the current time
//   - Scheduler: Clock plus ScheduleOnce for cancellable one-shot callbacks
//   - Fake: manual clock whose timers fire only when Advance is called
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Cancel stops a scheduled callback. It returns true if the call prevented
// the callback from running, false if it already ran or was cancelled.
type Cancel func() bool

// Scheduler runs callbacks once after a delay.
type Scheduler interface {
	Clock
	ScheduleOnce(d time.Duration, fn func()) Cancel
}

// =============================================================================
// REAL SCHEDULER
// =============================================================================

type realScheduler struct{}

// Real returns a Scheduler backed by time.AfterFunc. Callbacks run on their
// own goroutine.
func Real() Scheduler {
	return realScheduler{}
}

func (realScheduler) Now() time.Time { return time.Now() }

func (realScheduler) ScheduleOnce(d time.Duration, fn func()) Cancel {
	t := time.AfterFunc(d, fn)
	return t.Stop
}

// =============================================================================
// FAKE SCHEDULER
// =============================================================================

type fakeTimer struct {
	at  time.Time
	seq uint64
	fn  func()
}

// Fake is a manually advanced Scheduler. Callbacks fire synchronously on the
// goroutine calling Advance or Set, in due-time order (ties in scheduling
// order), without Fake's lock held, so callbacks may schedule or cancel.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers map[uint64]*fakeTimer
}

// NewFake returns a Fake starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, timers: make(map[uint64]*fakeTimer)}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// ScheduleOnce registers fn to run once the fake time reaches now+d.
// A non-positive d fires on the next Advance, even Advance(0).
func (f *Fake) ScheduleOnce(d time.Duration, fn func()) Cancel {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	id := f.seq
	f.timers[id] = &fakeTimer{at: f.now.Add(d), seq: id, fn: fn}

	return func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.timers[id]; !ok {
			return false
		}
		delete(f.timers, id)
		return true
	}
}

// Advance moves time forward by d, firing every timer that comes due.
func (f *Fake) Advance(d time.Duration) {
	f.Set(f.Now().Add(d))
}

// Set moves time to t (never backwards), firing every timer due at or
// before t. Timers scheduled by callbacks are fired too if they fall due.
func (f *Fake) Set(t time.Time) {
	for {
		f.mu.Lock()
		next := f.nextDueLocked(t)
		if next == nil {
			if t.After(f.now) {
				f.now = t
			}
			f.mu.Unlock()
			return
		}
		delete(f.timers, next.seq)
		if next.at.After(f.now) {
			f.now = next.at
		}
		f.mu.Unlock()

		next.fn()
	}
}

// Pending returns the number of scheduled, unfired timers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

func (f *Fake) nextDueLocked(t time.Time) *fakeTimer {
	due := make([]*fakeTimer, 0, len(f.timers))
	for _, tm := range f.timers {
		if !tm.at.After(t) {
			due = append(due, tm)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}
