// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package oplog

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument names exported by OTel.
const (
	MetricStringBufferExceeded      = "cobalt.buffer.string_exceeded"
	MetricEventVectorBufferExceeded = "cobalt.buffer.event_vector_exceeded"
	MetricMaxValueExceeded          = "cobalt.value.max_exceeded"
	MetricUploadResult              = "cobalt.upload.result"
)

// OTel records events as OpenTelemetry counters. Per-report counters
// carry metric_id and report_id attributes; the upload counter carries
// result=success|failure.
type OTel struct {
	stringExceeded metric.Int64Counter
	vectorExceeded metric.Int64Counter
	maxValue       metric.Int64Counter
	upload         metric.Int64Counter

	success metric.AddOption
	failure metric.AddOption
}

// NewOTel creates the counters on meter.
func NewOTel(meter metric.Meter) (*OTel, error) {
	o := &OTel{
		success: metric.WithAttributes(attribute.String("result", "success")),
		failure: metric.WithAttributes(attribute.String("result", "failure")),
	}
	var err error
	if o.stringExceeded, err = meter.Int64Counter(MetricStringBufferExceeded,
		metric.WithDescription("Strings dropped because a report's string buffer was full.")); err != nil {
		return nil, fmt.Errorf("oplog: creating %s: %w", MetricStringBufferExceeded, err)
	}
	if o.vectorExceeded, err = meter.Int64Counter(MetricEventVectorBufferExceeded,
		metric.WithDescription("Event vectors dropped because a report's event vector buffer was full.")); err != nil {
		return nil, fmt.Errorf("oplog: creating %s: %w", MetricEventVectorBufferExceeded, err)
	}
	if o.maxValue, err = meter.Int64Counter(MetricMaxValueExceeded,
		metric.WithDescription("Values clamped to a report's maximum.")); err != nil {
		return nil, fmt.Errorf("oplog: creating %s: %w", MetricMaxValueExceeded, err)
	}
	if o.upload, err = meter.Int64Counter(MetricUploadResult,
		metric.WithDescription("Upload cycles by result.")); err != nil {
		return nil, fmt.Errorf("oplog: creating %s: %w", MetricUploadResult, err)
	}
	return o, nil
}

func reportAttributes(metricID, reportID uint32) metric.AddOption {
	return metric.WithAttributes(
		attribute.Int64("metric_id", int64(metricID)),
		attribute.Int64("report_id", int64(reportID)),
	)
}

func (o *OTel) LogStringBufferMaxExceeded(metricID, reportID uint32) {
	o.stringExceeded.Add(context.Background(), 1, reportAttributes(metricID, reportID))
}

func (o *OTel) LogEventVectorBufferMaxExceeded(metricID, reportID uint32) {
	o.vectorExceeded.Add(context.Background(), 1, reportAttributes(metricID, reportID))
}

func (o *OTel) LogMaxValueExceeded(metricID, reportID uint32) {
	o.maxValue.Add(context.Background(), 1, reportAttributes(metricID, reportID))
}

func (o *OTel) LogUploadSuccess() {
	o.upload.Add(context.Background(), 1, o.success)
}

func (o *OTel) LogUploadFailure() {
	o.upload.Add(context.Background(), 1, o.failure)
}
