// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"fmt"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// DayIndex returns the number of whole days between the Unix epoch and
// t as observed in loc. Times before the epoch yield 0.
func DayIndex(t time.Time, loc *time.Location) uint32 {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	_, offset := local.Zone()
	seconds := local.Unix() + int64(offset)
	if seconds < 0 {
		return 0
	}
	return uint32(seconds / secondsPerDay)
}

// DayStart returns midnight UTC of the given day index.
func DayStart(day uint32) time.Time {
	return time.Unix(int64(day)*secondsPerDay, 0).UTC()
}

// Location resolves a metric time zone policy. "UTC" and the empty
// string map to UTC, "LOCAL" to the process zone, and anything else
// is looked up as an IANA name.
func Location(zone string) (*time.Location, error) {
	switch zone {
	case "", "UTC":
		return time.UTC, nil
	case "LOCAL":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("clock: time zone %q: %w", zone, err)
	}
	return loc, nil
}
