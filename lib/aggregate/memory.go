// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package aggregate

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/bureau-foundation/cobalt/lib/eventvector"
)

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	counts   map[CountKey]int64
	strings  map[ReportDay]StringList
	lastSent map[ReportKey]uint32
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counts:   make(map[CountKey]int64),
		strings:  make(map[ReportDay]StringList),
		lastSent: make(map[ReportKey]uint32),
	}
}

// hasEventVectorLocked reports whether ev has any count on the
// report-day, and how many distinct event vectors the report-day has.
func (s *MemoryStore) hasEventVectorLocked(reportDay ReportDay, ev eventvector.EventVector) (bool, int) {
	seen := make(map[eventvector.EventVector]struct{})
	found := false
	for key := range s.counts {
		if key.Report != reportDay.Report || key.Day != reportDay.Day {
			continue
		}
		seen[key.EventVector] = struct{}{}
		if key.EventVector == ev {
			found = true
		}
	}
	return found, len(seen)
}

func (s *MemoryStore) noteReportLocked(report ReportKey, day uint32) {
	if _, ok := s.lastSent[report]; !ok {
		s.lastSent[report] = initialLastSent(day)
	}
}

func (s *MemoryStore) AggregateCount(_ context.Context, report ReportKey, day uint32, ev eventvector.EventVector, eventVectorBufferMax uint32, delta int64) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := CountKey{Report: report, Day: day, EventVector: ev, StringIndex: OccurrenceIndex}
	if _, ok := s.counts[key]; !ok {
		_, distinct := s.hasEventVectorLocked(ReportDay{report, day}, ev)
		if eventVectorBufferMax > 0 && distinct >= int(eventVectorBufferMax) {
			return EventVectorBufferFull, nil
		}
	}
	s.counts[key] += delta
	s.noteReportLocked(report, day)
	return Aggregated, nil
}

func (s *MemoryStore) AggregateString(_ context.Context, report ReportKey, day uint32, ev eventvector.EventVector, eventVectorBufferMax, stringBufferMax uint32, hash []byte) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reportDay := ReportDay{report, day}
	list := s.strings[reportDay]
	index := slices.IndexFunc(list, func(h []byte) bool { return bytes.Equal(h, hash) })
	isNew := index < 0
	if isNew {
		if stringBufferMax > 0 && len(list) >= int(stringBufferMax) {
			return StringBufferFull, nil
		}
		index = len(list)
	}

	found, distinct := s.hasEventVectorLocked(reportDay, ev)
	if !found && eventVectorBufferMax > 0 && distinct >= int(eventVectorBufferMax) {
		return EventVectorBufferFull, nil
	}

	if isNew {
		s.strings[reportDay] = append(list, bytes.Clone(hash))
	}
	s.counts[CountKey{Report: report, Day: day, EventVector: ev, StringIndex: int32(index)}]++
	s.noteReportLocked(report, day)
	return Aggregated, nil
}

func (s *MemoryStore) LastSentDays(context.Context) (map[ReportKey]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lastSent := make(map[ReportKey]uint32, len(s.lastSent))
	for report, day := range s.lastSent {
		lastSent[report] = day
	}
	return lastSent, nil
}

func (s *MemoryStore) ReadPending(_ context.Context, throughDay uint32) (Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := Pending{Strings: make(map[ReportDay]StringList)}
	for key, value := range s.counts {
		if key.Day > throughDay {
			continue
		}
		pending.Counts = append(pending.Counts, Count{Key: key, Value: value})
	}
	slices.SortFunc(pending.Counts, func(a, b Count) int { return a.Key.Compare(b.Key) })

	for reportDay, list := range s.strings {
		if reportDay.Day > throughDay {
			continue
		}
		copied := make(StringList, len(list))
		for i, hash := range list {
			copied[i] = bytes.Clone(hash)
		}
		pending.Strings[reportDay] = copied
	}
	return pending, nil
}

func (s *MemoryStore) Acknowledge(_ context.Context, ack Ack) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := make(map[ReportDay]struct{})
	for _, count := range ack.Counts {
		remaining, ok := s.counts[count.Key]
		if !ok {
			continue
		}
		touched[ReportDay{count.Key.Report, count.Key.Day}] = struct{}{}
		if remaining -= count.Value; remaining <= 0 {
			delete(s.counts, count.Key)
		} else {
			s.counts[count.Key] = remaining
		}
	}
	for reportDay := range touched {
		if _, distinct := s.hasEventVectorLocked(reportDay, eventvector.EventVector{}); distinct == 0 {
			delete(s.strings, reportDay)
		}
	}
	for report, day := range ack.SentThrough {
		s.lastSent[report] = day
	}
	return nil
}

func (s *MemoryStore) Cleanup(_ context.Context, relevant []ReportKey, oldestDay uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := func(report ReportKey, day uint32) bool {
		return day >= oldestDay && slices.Contains(relevant, report)
	}
	for key := range s.counts {
		if !keep(key.Report, key.Day) {
			delete(s.counts, key)
		}
	}
	for reportDay := range s.strings {
		if !keep(reportDay.Report, reportDay.Day) {
			delete(s.strings, reportDay)
		}
	}
	for report := range s.lastSent {
		if !slices.Contains(relevant, report) {
			delete(s.lastSent, report)
		}
	}
	return nil
}
