// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package periodic runs the upload cycle: it reads aggregated counts
// from the store, turns them into observations under each report's
// privacy mechanism, encrypts and packs them into envelopes, hands the
// envelopes to the uploader, and acknowledges the consumed counts once
// the uploader confirms delivery.
//
// A [Cycle] allows one cycle in flight at a time. A trigger that
// arrives while a cycle is running receives the running cycle's
// [Completion] instead of starting another. Cycles run detached from
// the triggering context and end only at the configured deadline.
//
// [Scheduler] triggers a [Job] on a fixed period.
package periodic
