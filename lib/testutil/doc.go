// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Cobalt packages.
//
// [RequireReceive] and [RequireClosed] wrap the timeout safety valve
// (select with a time.After fallback) so individual tests never block
// forever on a goroutine that failed to report. They are the only
// place in the test suite where real wall-clock timeouts appear;
// everything else runs on clock.FakeClock.
//
// [Logger] returns a slog.Logger that records every entry so tests can
// assert on what the pipeline logged.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
