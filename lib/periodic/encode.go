// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package periodic

import (
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/cobalt/lib/aggregate"
	"github.com/bureau-foundation/cobalt/lib/observation"
	"github.com/bureau-foundation/cobalt/lib/registry"
)

// pendingObservation is an observation awaiting encryption, with the
// counts it consumes. Fabricated and participation observations
// consume nothing.
type pendingObservation struct {
	report         aggregate.ReportKey
	metadata       observation.Metadata
	observation    observation.Observation
	contributionID []byte
	counts         []aggregate.Count
}

// generated is the output of the Encoding step.
type generated struct {
	observations []pendingObservation
	fabricated   int

	// consumed are counts that produce no observation (zeros, buffer
	// overflow) but are acknowledged with a successful upload.
	consumed []aggregate.Count

	sentThrough map[aggregate.ReportKey]uint32
}

func (c *Cycle) encode(w *work, logger *slog.Logger) (*generated, error) {
	out := &generated{sentThrough: make(map[aggregate.ReportKey]uint32, len(w.reports))}
	for _, report := range w.reports {
		encoder := &reportEncoder{
			cycle:  c,
			report: report,
			logger: logger.With("report", report.entry.Key.String()),
			out:    out,
		}
		for day := report.firstDay; day <= w.mostRecentDay; day++ {
			reportDay := aggregate.ReportDay{Report: report.entry.Key, Day: day}
			if err := encoder.encodeDay(day, w.counts[reportDay], w.strings[reportDay]); err != nil {
				return nil, fmt.Errorf("periodic: report %s day %d: %w", report.entry.Key, day, err)
			}
		}
		out.sentThrough[report.entry.Key] = w.mostRecentDay
	}
	return out, nil
}

// reportEncoder turns one report's counts into observations.
type reportEncoder struct {
	cycle  *Cycle
	report reportWork
	logger *slog.Logger
	out    *generated

	clampLogged bool
}

func (e *reportEncoder) encodeDay(day uint32, counts []aggregate.Count, hashes aggregate.StringList) error {
	switch {
	case e.report.entry.Report.Type == registry.ReportStringCounts:
		return e.encodeStrings(day, counts, hashes)
	case e.report.policy != nil:
		return e.encodePrivate(day, counts)
	default:
		return e.encodeIntegers(day, counts)
	}
}

func (e *reportEncoder) metadata(day uint32) observation.Metadata {
	report := e.report.entry.Report
	device := e.cycle.config.SystemProfile
	var profile observation.SystemProfile
	if report.HasField(registry.FieldAppVersion) {
		profile.AppVersion = device.AppVersion
	}
	if report.HasField(registry.FieldSystemVersion) {
		profile.SystemVersion = device.SystemVersion
	}
	key := e.report.entry.Key
	return observation.Metadata{
		CustomerID:    key.CustomerID,
		ProjectID:     key.ProjectID,
		MetricID:      key.MetricID,
		ReportID:      key.ReportID,
		DayIndex:      day,
		SystemProfile: profile,
	}
}

func (e *reportEncoder) randomID() ([]byte, error) {
	randomID, err := e.cycle.config.Source.NextBytes(observation.RandomIDSize)
	if err != nil {
		return nil, fmt.Errorf("drawing random id: %w", err)
	}
	return randomID, nil
}

// emit queues a real observation. Each one carries a fresh contribution
// id so the backend can count delivered contributions.
func (e *reportEncoder) emit(day uint32, obs observation.Observation, counts []aggregate.Count) error {
	contributionID, err := e.cycle.config.Source.NextBytes(contributionIDSize)
	if err != nil {
		return fmt.Errorf("drawing contribution id: %w", err)
	}
	e.queue(day, obs, contributionID, counts)
	return nil
}

// emitNoise queues a fabricated or participation observation, without
// a contribution id.
func (e *reportEncoder) emitNoise(day uint32, obs observation.Observation) {
	e.queue(day, obs, nil, nil)
}

func (e *reportEncoder) queue(day uint32, obs observation.Observation, contributionID []byte, counts []aggregate.Count) {
	e.out.observations = append(e.out.observations, pendingObservation{
		report:         e.report.entry.Key,
		metadata:       e.metadata(day),
		observation:    obs,
		contributionID: contributionID,
		counts:         counts,
	})
}

func (e *reportEncoder) consume(count aggregate.Count) {
	e.out.consumed = append(e.out.consumed, count)
}

// occurrences returns the counts of one day that become observations.
// Zero counts and event vectors past the buffer max are consumed
// without one.
func (e *reportEncoder) occurrences(counts []aggregate.Count) []aggregate.Count {
	bufferMax := int(e.report.entry.Report.EventVectorBufferMax)
	var kept []aggregate.Count
	overflow := 0
	for _, count := range counts {
		if count.Key.StringIndex != aggregate.OccurrenceIndex || count.Value <= 0 {
			e.consume(count)
			continue
		}
		if bufferMax > 0 && len(kept) >= bufferMax {
			overflow++
			e.consume(count)
			continue
		}
		kept = append(kept, count)
	}
	if overflow > 0 {
		e.logger.Warn("event vector buffer max exceeded, dropping event vectors",
			"buffer_max", bufferMax, "dropped", overflow)
		key := e.report.entry.Key
		e.cycle.config.OperationLogger.LogEventVectorBufferMaxExceeded(key.MetricID, key.ReportID)
	}
	return kept
}

// clamp caps value at the report's max value, logging the first
// occurrence per report and cycle.
func (e *reportEncoder) clamp(value int64) int64 {
	maxValue := e.report.entry.Report.MaxValue
	if maxValue <= 0 || value <= maxValue {
		return value
	}
	if !e.clampLogged {
		e.clampLogged = true
		e.logger.Warn("count exceeds report max value, clamping", "value", value, "max_value", maxValue)
		key := e.report.entry.Key
		e.cycle.config.OperationLogger.LogMaxValueExceeded(key.MetricID, key.ReportID)
	}
	return maxValue
}

func (e *reportEncoder) encodeIntegers(day uint32, counts []aggregate.Count) error {
	for _, count := range e.occurrences(counts) {
		randomID, err := e.randomID()
		if err != nil {
			return err
		}
		obs, err := observation.NewIntegerObservation(count.Key.EventVector, e.clamp(count.Value), randomID)
		if err != nil {
			return err
		}
		if err := e.emit(day, obs, []aggregate.Count{count}); err != nil {
			return err
		}
	}
	return nil
}

// encodePrivate emits the real private indices, then the fabricated
// ones, then the participation observation. The participation
// observation is emitted even for a day without data.
func (e *reportEncoder) encodePrivate(day uint32, counts []aggregate.Count) error {
	metric := e.report.entry.Metric
	report := e.report.entry.Report
	maxCodes := metric.MaxEventCodes()
	maxEventVectorIndex := observation.MaxEventVectorIndex(maxCodes)

	for _, count := range e.occurrences(counts) {
		eventVectorIndex, err := observation.EventVectorIndex(count.Key.EventVector, maxCodes)
		if err != nil {
			e.logger.Warn("dropping count outside the metric's event codes",
				"event_vector", count.Key.EventVector.String(), "error", err)
			e.consume(count)
			continue
		}
		valueIndex := observation.ValueIndex(e.clamp(count.Value), report.MinValue, report.MaxValue,
			report.NumIndexPoints, e.cycle.config.Source.NextDouble())
		randomID, err := e.randomID()
		if err != nil {
			return err
		}
		obs, err := observation.NewPrivateIndexObservation(
			observation.CombinePrivateIndex(eventVectorIndex, maxEventVectorIndex, valueIndex), randomID)
		if err != nil {
			return err
		}
		if err := e.emit(day, obs, []aggregate.Count{count}); err != nil {
			return err
		}
	}

	indices, err := e.cycle.mechanism.FabricatedIndices(e.report.policy,
		observation.MaxPrivateIndex(maxCodes, report.NumIndexPoints))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	for _, index := range indices {
		randomID, err := e.randomID()
		if err != nil {
			return err
		}
		obs, err := observation.NewPrivateIndexObservation(index, randomID)
		if err != nil {
			return err
		}
		e.emitNoise(day, obs)
		e.out.fabricated++
	}

	randomID, err := e.randomID()
	if err != nil {
		return err
	}
	participation, err := observation.NewReportParticipationObservation(randomID)
	if err != nil {
		return err
	}
	e.emitNoise(day, participation)
	return nil
}

// encodeStrings emits one histogram for the day. Counts arrive sorted
// by event vector and string index, so each event vector's buckets
// are contiguous.
func (e *reportEncoder) encodeStrings(day uint32, counts []aggregate.Count, hashes aggregate.StringList) error {
	bufferMax := int(e.report.entry.Report.StringBufferMax)
	if bufferMax > 0 && len(hashes) > bufferMax {
		e.logger.Warn("string buffer max exceeded, dropping strings",
			"buffer_max", bufferMax, "strings", len(hashes))
		key := e.report.entry.Key
		e.cycle.config.OperationLogger.LogStringBufferMaxExceeded(key.MetricID, key.ReportID)
		hashes = hashes[:bufferMax]
	}

	var histograms []observation.IndexHistogram
	var used []aggregate.Count
	for _, count := range counts {
		index := count.Key.StringIndex
		if index < 0 || int(index) >= len(hashes) || count.Value <= 0 {
			e.consume(count)
			continue
		}
		if len(histograms) == 0 || !histograms[len(histograms)-1].EventVector.Equal(count.Key.EventVector) {
			histograms = append(histograms, observation.IndexHistogram{EventVector: count.Key.EventVector})
		}
		histogram := &histograms[len(histograms)-1]
		histogram.BucketIndices = append(histogram.BucketIndices, uint32(index))
		histogram.BucketCounts = append(histogram.BucketCounts, count.Value)
		used = append(used, count)
	}
	if len(histograms) == 0 {
		return nil
	}

	randomID, err := e.randomID()
	if err != nil {
		return err
	}
	obs, err := observation.NewStringHistogramObservation(hashes, histograms, randomID)
	if err != nil {
		return err
	}
	return e.emit(day, obs, used)
}
