// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package periodic

import (
	"context"
	"sync"
)

// State is the phase a cycle is in.
type State int

const (
	Idle State = iota
	Reading
	Encoding
	Encrypting
	Uploading
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Reading:
		return "reading"
	case Encoding:
		return "encoding"
	case Encrypting:
		return "encrypting"
	case Uploading:
		return "uploading"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether a cycle in state s has finished.
func (s State) Terminal() bool { return s == Completed || s == Failed }

// Result summarizes one cycle.
type Result struct {
	CycleID string
	State   State

	// Observations counts every observation generated, fabricated and
	// participation observations included.
	Observations int

	// Fabricated counts the chaff among Observations.
	Fabricated int

	// Envelopes is the number of envelopes packed and Messages the
	// number handed to the uploader. They differ by the envelopes that
	// failed to encrypt.
	Envelopes int
	Messages  int

	// DroppedEncryptions counts observations and envelopes whose
	// encryption failed.
	DroppedEncryptions int

	// Acknowledged is the number of count keys returned to the store.
	Acknowledged int

	Err error
}

// Completion tracks one cycle. It is safe for concurrent use, and
// every caller coalesced onto the same cycle shares one Completion.
type Completion struct {
	done chan struct{}

	mu     sync.Mutex
	result Result
}

func newCompletion(cycleID string) *Completion {
	return &Completion{
		done:   make(chan struct{}),
		result: Result{CycleID: cycleID, State: Idle},
	}
}

// finished returns a Completion that is already done with result.
func finished(result Result) *Completion {
	completion := newCompletion(result.CycleID)
	completion.finish(result)
	return completion
}

func (c *Completion) setState(state State) {
	c.mu.Lock()
	c.result.State = state
	c.mu.Unlock()
}

func (c *Completion) finish(result Result) {
	c.mu.Lock()
	c.result = result
	c.mu.Unlock()
	close(c.done)
}

// Done is closed when the cycle reaches Completed or Failed.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Wait blocks until the cycle finishes or ctx is done. It returns the
// final result and the cycle's error. Giving up on ctx does not stop
// the cycle.
func (c *Completion) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.done:
		result := c.Result()
		return result, result.Err
	case <-ctx.Done():
		return c.Result(), ctx.Err()
	}
}

// Result returns a snapshot. Before Done is closed only CycleID and
// State are meaningful.
func (c *Completion) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}
