// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the subset of the time package the pipeline depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the time once d has
	// elapsed. Non-positive durations fire immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a ticker that delivers on C every d. Panics
	// if d is not positive, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers ticks on C until Stop is called. Like time.Ticker,
// C has a buffer of one and slow readers miss ticks.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns the ticker off. It does not close C.
func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return system{} }

type system struct{}

func (system) Now() time.Time { return time.Now() }

func (system) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (system) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stop: ticker.Stop}
}

// Sleep blocks until d has elapsed on c or done is closed, and reports
// whether the full duration elapsed.
func Sleep(c Clock, d time.Duration, done <-chan struct{}) bool {
	select {
	case <-c.After(d):
		return true
	case <-done:
		return false
	}
}
