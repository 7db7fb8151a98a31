// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package aggregate holds the per-device event counts that the
// periodic job turns into observations.
//
// Counts are keyed by report, day index, event vector and string
// index. The recorder writes them through AggregateCount and
// AggregateString, enforcing each report's buffer limits at write
// time; the periodic job reads them with ReadPending and, once the
// upload is confirmed, gives back exactly what it consumed with
// Acknowledge.
//
// [MemoryStore] keeps everything in maps. [SQLiteStore] persists to a
// database opened through lib/sqlitepool.
package aggregate

import (
	"cmp"
	"context"
	"fmt"

	"github.com/bureau-foundation/cobalt/lib/eventvector"
)

// OccurrenceIndex is the string index of counts that belong to
// occurrence reports rather than string reports.
const OccurrenceIndex int32 = -1

// ReportKey identifies one report of one metric.
type ReportKey struct {
	CustomerID uint32
	ProjectID  uint32
	MetricID   uint32
	ReportID   uint32
}

func (k ReportKey) String() string {
	return fmt.Sprintf("%d/%d/%d/%d", k.CustomerID, k.ProjectID, k.MetricID, k.ReportID)
}

// Compare orders report keys by customer, project, metric, report.
func (k ReportKey) Compare(other ReportKey) int {
	return cmp.Or(
		cmp.Compare(k.CustomerID, other.CustomerID),
		cmp.Compare(k.ProjectID, other.ProjectID),
		cmp.Compare(k.MetricID, other.MetricID),
		cmp.Compare(k.ReportID, other.ReportID),
	)
}

// ReportDay is one report on one day.
type ReportDay struct {
	Report ReportKey
	Day    uint32
}

// CountKey addresses one aggregated count.
type CountKey struct {
	Report      ReportKey
	Day         uint32
	EventVector eventvector.EventVector
	StringIndex int32
}

// Compare orders count keys by report, day, event vector and string
// index; ReadPending returns counts in this order.
func (k CountKey) Compare(other CountKey) int {
	return cmp.Or(
		k.Report.Compare(other.Report),
		cmp.Compare(k.Day, other.Day),
		k.EventVector.Compare(other.EventVector),
		cmp.Compare(k.StringIndex, other.StringIndex),
	)
}

// Count is one aggregated value.
type Count struct {
	Key   CountKey
	Value int64
}

// StringList is the ordered list of string hashes for one report-day.
// A string count's StringIndex points into it.
type StringList [][]byte

// Pending is everything a cycle may turn into observations.
type Pending struct {
	Counts  []Count
	Strings map[ReportDay]StringList
}

// Ack returns consumed counts to the store after a confirmed upload.
type Ack struct {
	// Counts are subtracted from their keys; keys that reach zero are
	// deleted.
	Counts []Count

	// SentThrough advances each report's last sent day.
	SentThrough map[ReportKey]uint32
}

// Outcome is the result of one aggregation.
type Outcome int

const (
	Aggregated Outcome = iota
	EventVectorBufferFull
	StringBufferFull
)

func (o Outcome) String() string {
	switch o {
	case Aggregated:
		return "aggregated"
	case EventVectorBufferFull:
		return "event_vector_buffer_full"
	case StringBufferFull:
		return "string_buffer_full"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Store is the aggregation store. A zero buffer max means unlimited.
type Store interface {
	// AggregateCount adds delta to the occurrence count of ev.
	AggregateCount(ctx context.Context, report ReportKey, day uint32, ev eventvector.EventVector, eventVectorBufferMax uint32, delta int64) (Outcome, error)

	// AggregateString counts one occurrence of the string with the
	// given hash under ev. The hash joins the report-day's string list
	// only if the count is recorded.
	AggregateString(ctx context.Context, report ReportKey, day uint32, ev eventvector.EventVector, eventVectorBufferMax, stringBufferMax uint32, hash []byte) (Outcome, error)

	// LastSentDays returns the last day each known report was
	// uploaded through.
	LastSentDays(ctx context.Context) (map[ReportKey]uint32, error)

	// ReadPending returns every count on or before throughDay.
	ReadPending(ctx context.Context, throughDay uint32) (Pending, error)

	// Acknowledge applies ack atomically.
	Acknowledge(ctx context.Context, ack Ack) error

	// Cleanup deletes days before oldestDay and every report not in
	// relevant.
	Cleanup(ctx context.Context, relevant []ReportKey, oldestDay uint32) error
}

// initialLastSent is the last sent day recorded for a report the first
// time it aggregates anything.
func initialLastSent(day uint32) uint32 {
	if day == 0 {
		return 0
	}
	return day - 1
}
