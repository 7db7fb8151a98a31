// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/cobalt/lib/observation"
)

// NoOp is an Uploader that keeps messages in memory. UploadDone
// returns the error set with SetError, nil by default.
type NoOp struct {
	mu        sync.Mutex
	messages  []observation.EncryptedMessage
	doneCount int
	err       error
}

func (n *NoOp) Upload(msg observation.EncryptedMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

func (n *NoOp) UploadDone(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.doneCount++
	return n.err
}

// SetError makes subsequent UploadDone calls return err.
func (n *NoOp) SetError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Messages returns a copy of every uploaded message in order.
func (n *NoOp) Messages() []observation.EncryptedMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.messages)
}

// UploadDoneCount returns how many times UploadDone was called.
func (n *NoOp) UploadDoneCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.doneCount
}

// Discard is the Uploader for a device with no collector endpoint.
// Messages are dropped on Upload. UploadDone fails with ErrNoEndpoint
// if anything was dropped since the previous call, so the cycle never
// acknowledges counts that did not leave the device.
type Discard struct {
	dropped atomic.Int64
}

func (d *Discard) Upload(observation.EncryptedMessage) {
	d.dropped.Add(1)
}

func (d *Discard) UploadDone(context.Context) error {
	if dropped := d.dropped.Swap(0); dropped > 0 {
		return fmt.Errorf("%w: %d messages dropped", ErrNoEndpoint, dropped)
	}
	return nil
}
