// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package oplog is the sink for the pipeline's operational diagnostics:
// buffer overflows, clamped values, and per-cycle upload outcomes.
//
// Calls are fire-and-forget. Implementations must not block and must
// be safe for concurrent use; the recorder and the periodic job call
// them from different goroutines.
package oplog

import (
	"context"
	"log/slog"
)

// OperationLogger receives diagnostic events.
type OperationLogger interface {
	// LogStringBufferMaxExceeded records a string dropped because the
	// report's distinct-string buffer for the day was full.
	LogStringBufferMaxExceeded(metricID, reportID uint32)

	// LogEventVectorBufferMaxExceeded records an event vector dropped
	// because the report's event vector buffer for the day was full.
	LogEventVectorBufferMaxExceeded(metricID, reportID uint32)

	// LogMaxValueExceeded records a value clamped to the report's
	// maximum.
	LogMaxValueExceeded(metricID, reportID uint32)

	// LogUploadSuccess records a cycle whose upload was confirmed.
	LogUploadSuccess()

	// LogUploadFailure records a cycle whose upload failed.
	LogUploadFailure()
}

// Discard returns an OperationLogger that drops everything.
func Discard() OperationLogger { return discard{} }

type discard struct{}

func (discard) LogStringBufferMaxExceeded(uint32, uint32)      {}
func (discard) LogEventVectorBufferMaxExceeded(uint32, uint32) {}
func (discard) LogMaxValueExceeded(uint32, uint32)             {}
func (discard) LogUploadSuccess()                              {}
func (discard) LogUploadFailure()                              {}

// Slog writes each event as a structured log line.
type Slog struct {
	Logger *slog.Logger
}

// NewSlog returns a Slog writing to logger. A nil logger discards.
func NewSlog(logger *slog.Logger) *Slog {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Slog{Logger: logger}
}

func (s *Slog) LogStringBufferMaxExceeded(metricID, reportID uint32) {
	s.Logger.Warn("string buffer max exceeded", "metric_id", metricID, "report_id", reportID)
}

func (s *Slog) LogEventVectorBufferMaxExceeded(metricID, reportID uint32) {
	s.Logger.Warn("event vector buffer max exceeded", "metric_id", metricID, "report_id", reportID)
}

func (s *Slog) LogMaxValueExceeded(metricID, reportID uint32) {
	s.Logger.Warn("max value exceeded", "metric_id", metricID, "report_id", reportID)
}

func (s *Slog) LogUploadSuccess() {
	s.Logger.Info("upload succeeded")
}

func (s *Slog) LogUploadFailure() {
	s.Logger.Log(context.Background(), slog.LevelWarn, "upload failed")
}

// Multi fans each event out to every logger in order.
type Multi []OperationLogger

func (m Multi) LogStringBufferMaxExceeded(metricID, reportID uint32) {
	for _, logger := range m {
		logger.LogStringBufferMaxExceeded(metricID, reportID)
	}
}

func (m Multi) LogEventVectorBufferMaxExceeded(metricID, reportID uint32) {
	for _, logger := range m {
		logger.LogEventVectorBufferMaxExceeded(metricID, reportID)
	}
}

func (m Multi) LogMaxValueExceeded(metricID, reportID uint32) {
	for _, logger := range m {
		logger.LogMaxValueExceeded(metricID, reportID)
	}
}

func (m Multi) LogUploadSuccess() {
	for _, logger := range m {
		logger.LogUploadSuccess()
	}
}

func (m Multi) LogUploadFailure() {
	for _, logger := range m {
		logger.LogUploadFailure()
	}
}
