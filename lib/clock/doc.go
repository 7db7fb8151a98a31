// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by the
// collection pipeline, plus the day-index arithmetic that buckets
// aggregated counts.
//
// Production code takes a Clock instead of calling time.Now, time.After
// or time.NewTicker directly. Real returns the standard library
// behavior. Fake returns a deterministic clock that only moves when
// Advance is called, so upload backoff and the daemon's period ticker
// can be driven step by step in tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go shipper.run(ctx)
//	c.WaitForTimers(1) // the shipper is now sleeping in backoff
//	c.Advance(time.Second)
//
// # Day indices
//
// Observations are keyed by day index: whole days since the Unix epoch
// measured in the metric's time zone. DayIndex(t, time.UTC) for
// 2022-07-28T12:00Z is 19201.
package clock
