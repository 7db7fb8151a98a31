// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// LogRecorder collects log records written through the logger returned
// by [Logger].
type LogRecorder struct {
	mu      sync.Mutex
	records []slog.Record
}

// Logger returns a debug-level logger and the recorder behind it.
func Logger() (*slog.Logger, *LogRecorder) {
	recorder := &LogRecorder{}
	return slog.New(&recordingHandler{recorder: recorder}), recorder
}

// Count returns how many records at level or above contain substring
// in their message.
func (r *LogRecorder) Count(level slog.Level, substring string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, record := range r.records {
		if record.Level >= level && strings.Contains(record.Message, substring) {
			count++
		}
	}
	return count
}

// Messages returns every recorded message in order.
func (r *LogRecorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	messages := make([]string, len(r.records))
	for i, record := range r.records {
		messages[i] = record.Message
	}
	return messages
}

type recordingHandler struct {
	recorder *LogRecorder
	attrs    []slog.Attr
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, record slog.Record) error {
	record = record.Clone()
	record.AddAttrs(h.attrs...)
	h.recorder.mu.Lock()
	defer h.recorder.mu.Unlock()
	h.recorder.records = append(h.recorder.records, record)
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	combined := append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &recordingHandler{recorder: h.recorder, attrs: combined}
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }
