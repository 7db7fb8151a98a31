// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package privacy decides, slot by slot, whether the pipeline surfaces
// a true count, adds fabricated ("chaff") observations, or suppresses
// the slot entirely.
//
// A Mechanism draws from a securerandom.Source and maps the draw
// through a Sampler calibrated by the report's noise parameter λ. The
// default Sampler is the inverse CDF of a Poisson distribution with
// mean λ: the draw u yields the smallest k whose cumulative
// probability reaches u, so u <= e^-λ yields no chaff and larger draws
// yield one or more fabricated observations.
//
// Policies with λ below MinChaffLambda (0.1 by default) never fabricate
// and consume no randomness. Malformed policies are configuration
// errors: they are reported before a cycle does any I/O and are never
// silently defaulted.
package privacy
