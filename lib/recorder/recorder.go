// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package recorder is the entry point applications call to record
// events. Each call is checked against the registry and aggregated
// into every collected report of the metric for the current day in
// the metric's time zone.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/cobalt/lib/aggregate"
	"github.com/bureau-foundation/cobalt/lib/clock"
	"github.com/bureau-foundation/cobalt/lib/eventvector"
	"github.com/bureau-foundation/cobalt/lib/oplog"
	"github.com/bureau-foundation/cobalt/lib/registry"
)

// StringHashSize is the number of bytes of BLAKE3 output kept for a
// recorded string.
const StringHashSize = 8

var (
	ErrNegativeCount  = errors.New("recorder: negative count")
	ErrUnknownMetric  = errors.New("recorder: unknown metric")
	ErrWrongType      = errors.New("recorder: wrong metric type")
	ErrEventCode      = errors.New("recorder: invalid event codes")
	ErrMissingStorage = errors.New("recorder: store and registry are required")
)

// Config configures a Recorder.
type Config struct {
	CustomerID uint32
	ProjectID  uint32

	Registry *registry.Registry
	Store    aggregate.Store

	// OperationLogger receives buffer overflow events. Nil discards.
	OperationLogger oplog.OperationLogger

	Clock  clock.Clock
	Logger *slog.Logger

	// ReleaseStage is the device's stage.
	ReleaseStage registry.ReleaseStage

	// Enabled false turns every call into a no-op.
	Enabled bool
}

// Recorder records events into the aggregation store. Safe for
// concurrent use.
type Recorder struct {
	config Config
}

// New returns a Recorder for cfg.
func New(cfg Config) (*Recorder, error) {
	if cfg.Registry == nil || cfg.Store == nil {
		return nil, ErrMissingStorage
	}
	if cfg.OperationLogger == nil {
		cfg.OperationLogger = oplog.Discard()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{config: cfg}, nil
}

// HashString returns the hash under which a string value is counted.
func HashString(value string) []byte {
	sum := blake3.Sum256([]byte(value))
	return sum[:StringHashSize]
}

// LogOccurrence adds count occurrences of the event described by
// eventCodes to metricID.
func (r *Recorder) LogOccurrence(ctx context.Context, metricID uint32, count int64, eventCodes ...int) error {
	if count < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeCount, count)
	}
	return r.record(ctx, metricID, registry.MetricOccurrence, eventCodes, func(entry registry.Entry, day uint32, ev eventvector.EventVector) (aggregate.Outcome, error) {
		return r.config.Store.AggregateCount(ctx, entry.Key, day, ev, entry.Report.EventVectorBufferMax, count)
	})
}

// LogString counts one occurrence of value for metricID.
func (r *Recorder) LogString(ctx context.Context, metricID uint32, value string, eventCodes ...int) error {
	hash := HashString(value)
	return r.record(ctx, metricID, registry.MetricString, eventCodes, func(entry registry.Entry, day uint32, ev eventvector.EventVector) (aggregate.Outcome, error) {
		return r.config.Store.AggregateString(ctx, entry.Key, day, ev, entry.Report.EventVectorBufferMax, entry.Report.StringBufferMax, hash)
	})
}

type aggregateFunc func(entry registry.Entry, day uint32, ev eventvector.EventVector) (aggregate.Outcome, error)

func (r *Recorder) record(ctx context.Context, metricID uint32, want registry.MetricType, eventCodes []int, aggregateInto aggregateFunc) error {
	metric, ok := r.config.Registry.Metric(registry.MetricKey{
		CustomerID: r.config.CustomerID,
		ProjectID:  r.config.ProjectID,
		MetricID:   metricID,
	})
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMetric, metricID)
	}
	if metric.Type != want {
		return fmt.Errorf("%w: metric %d is %s, not %s", ErrWrongType, metricID, metric.Type, want)
	}
	ev, err := checkEventCodes(metric, eventCodes)
	if err != nil {
		return fmt.Errorf("metric %d: %w", metricID, err)
	}

	if !r.config.Enabled || !r.config.ReleaseStage.Collects(metric.MaxReleaseStage) {
		return nil
	}

	location, err := clock.Location(metric.TimeZone)
	if err != nil {
		return err
	}
	day := clock.DayIndex(r.config.Clock.Now(), location)

	for _, entry := range r.config.Registry.Entries() {
		if entry.Metric != metric || !r.config.ReleaseStage.Collects(entry.Report.MaxReleaseStage) {
			continue
		}
		outcome, err := aggregateInto(entry, day, ev)
		if err != nil {
			return fmt.Errorf("recorder: report %s: %w", entry.Key, err)
		}
		switch outcome {
		case aggregate.EventVectorBufferFull:
			r.config.OperationLogger.LogEventVectorBufferMaxExceeded(metricID, entry.Key.ReportID)
		case aggregate.StringBufferFull:
			r.config.OperationLogger.LogStringBufferMaxExceeded(metricID, entry.Key.ReportID)
		}
	}
	return nil
}

// checkEventCodes builds the event vector for a metric, rejecting
// codes that are negative or above their dimension's max.
func checkEventCodes(metric *registry.Metric, eventCodes []int) (eventvector.EventVector, error) {
	if len(eventCodes) != len(metric.Dimensions) {
		return eventvector.EventVector{}, fmt.Errorf("%w: got %d codes for %d dimensions", ErrEventCode, len(eventCodes), len(metric.Dimensions))
	}
	ev, err := eventvector.FromInts(eventCodes)
	if err != nil {
		return eventvector.EventVector{}, fmt.Errorf("%w: %w", ErrEventCode, err)
	}
	for i, dimension := range metric.Dimensions {
		if ev.Code(i) > dimension.MaxEventCode {
			return eventvector.EventVector{}, fmt.Errorf("%w: code %d exceeds dimension %d max %d", ErrEventCode, ev.Code(i), i, dimension.MaxEventCode)
		}
	}
	return ev, nil
}
