// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves on Advance. Safe for
// concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*alarm
	changed *sync.Cond
}

// alarm is one registered After channel or ticker. period is zero for
// one-shot alarms.
type alarm struct {
	at     time.Time
	period time.Duration
	ch     chan time.Time
}

// Fake returns a FakeClock reading initial.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{now: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.addLocked(&alarm{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	ch := make(chan time.Time, 1)
	a := &alarm{period: d, ch: ch}

	c.mu.Lock()
	a.at = c.now.Add(d)
	c.addLocked(a)
	c.mu.Unlock()

	return &Ticker{C: ch, stop: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.pending = slices.DeleteFunc(c.pending, func(p *alarm) bool { return p == a })
	}}
}

func (c *FakeClock) addLocked(a *alarm) {
	c.pending = append(c.pending, a)
	c.changed.Broadcast()
}

// Set moves the clock to t, firing anything due in between. Moving
// backwards only changes Now.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	d := t.Sub(c.now)
	if d <= 0 {
		c.now = t
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.Advance(d)
}

// Advance moves the clock forward by d and fires every alarm whose
// deadline has been reached, earliest first. A ticker that is due more
// than once fires once per period, dropping ticks its reader has not
// consumed.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now

	var due []*alarm
	kept := c.pending[:0]
	for _, a := range c.pending {
		if a.at.After(now) {
			kept = append(kept, a)
			continue
		}
		due = append(due, a)
		if a.period > 0 {
			for !a.at.After(now) {
				a.at = a.at.Add(a.period)
			}
			kept = append(kept, a)
		}
	}
	c.pending = kept
	c.mu.Unlock()

	slices.SortStableFunc(due, func(a, b *alarm) int { return a.at.Compare(b.at) })
	for _, a := range due {
		select {
		case a.ch <- now:
		default:
		}
	}
}

// WaitForTimers blocks until at least n alarms are pending. Tests call
// it before Advance so a goroutine has registered its wait.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of registered alarms.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
