// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package oplog

import "sync"

// ReportID pairs a metric and report for Counting's per-report tallies.
type ReportID struct {
	MetricID uint32
	ReportID uint32
}

// Counting tallies events in memory. Tests use it to assert on
// diagnostics; it is safe for concurrent use.
type Counting struct {
	mu               sync.Mutex
	stringExceeded   map[ReportID]int
	vectorExceeded   map[ReportID]int
	maxValueExceeded map[ReportID]int
	uploadSuccesses  int
	uploadFailures   int
}

// NewCounting returns an empty Counting.
func NewCounting() *Counting {
	return &Counting{
		stringExceeded:   make(map[ReportID]int),
		vectorExceeded:   make(map[ReportID]int),
		maxValueExceeded: make(map[ReportID]int),
	}
}

func (c *Counting) LogStringBufferMaxExceeded(metricID, reportID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stringExceeded[ReportID{metricID, reportID}]++
}

func (c *Counting) LogEventVectorBufferMaxExceeded(metricID, reportID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vectorExceeded[ReportID{metricID, reportID}]++
}

func (c *Counting) LogMaxValueExceeded(metricID, reportID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxValueExceeded[ReportID{metricID, reportID}]++
}

func (c *Counting) LogUploadSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploadSuccesses++
}

func (c *Counting) LogUploadFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploadFailures++
}

// StringBufferMaxExceeded returns the count for one report.
func (c *Counting) StringBufferMaxExceeded(metricID, reportID uint32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stringExceeded[ReportID{metricID, reportID}]
}

// EventVectorBufferMaxExceeded returns the count for one report.
func (c *Counting) EventVectorBufferMaxExceeded(metricID, reportID uint32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vectorExceeded[ReportID{metricID, reportID}]
}

// MaxValueExceeded returns the count for one report.
func (c *Counting) MaxValueExceeded(metricID, reportID uint32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxValueExceeded[ReportID{metricID, reportID}]
}

// UploadSuccesses returns the number of LogUploadSuccess calls.
func (c *Counting) UploadSuccesses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploadSuccesses
}

// UploadFailures returns the number of LogUploadFailure calls.
func (c *Counting) UploadFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploadFailures
}
