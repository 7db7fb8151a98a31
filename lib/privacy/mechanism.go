// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package privacy

import (
	"github.com/bureau-foundation/cobalt/lib/securerandom"
)

// Kind is the outcome of a noise decision.
type Kind int

const (
	// Real surfaces the true value alone.
	Real Kind = iota

	// Fabricated surfaces chaff, alongside the true value when there
	// is one.
	Fabricated

	// Suppressed surfaces nothing.
	Suppressed
)

func (k Kind) String() string {
	switch k {
	case Real:
		return "real"
	case Fabricated:
		return "fabricated"
	case Suppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Decision is the per-slot outcome. Decisions are computed fresh every
// cycle and must not be cached.
type Decision struct {
	Kind Kind

	// Value is the true value to emit. Zero when Suppressed.
	Value int64

	// Fabricated is the number of chaff observations to add.
	Fabricated int
}

// Mechanism draws noise decisions from a random source.
type Mechanism struct {
	source  securerandom.Source
	sampler Sampler
}

// NewMechanism returns a Mechanism drawing from source through
// sampler. A nil sampler selects Poisson.
func NewMechanism(source securerandom.Source, sampler Sampler) *Mechanism {
	if sampler == nil {
		sampler = Poisson{}
	}
	return &Mechanism{source: source, sampler: sampler}
}

// Decide returns the decision for a slot whose true value is value.
// The only errors are configuration errors.
func (m *Mechanism) Decide(policy *Policy, value int64) (Decision, error) {
	if err := policy.Validate(); err != nil {
		return Decision{}, err
	}

	fabricated := 0
	if policy.ChaffEnabled() {
		fabricated = m.sampler.Sample(policy.Lambda, m.source.NextDouble())
	}

	switch {
	case fabricated > 0:
		return Decision{Kind: Fabricated, Value: value, Fabricated: fabricated}, nil
	case value == 0 && policy.SuppressZero:
		return Decision{Kind: Suppressed}, nil
	default:
		return Decision{Kind: Real, Value: value}, nil
	}
}

// FabricatedIndices returns the private indices of the chaff for one
// report and day, each drawn uniformly from [0, maxIndex]. The policy's
// λ is a per-index mean: the count is sampled with mean
// λ·(maxIndex+1), and the chaff threshold applies to that mean.
func (m *Mechanism) FabricatedIndices(policy *Policy, maxIndex uint64) ([]uint64, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	scaled := *policy
	scaled.Lambda = policy.Lambda * (float64(maxIndex) + 1)
	decision, err := m.Decide(&scaled, 0)
	if err != nil {
		return nil, err
	}
	if decision.Fabricated == 0 {
		return nil, nil
	}
	bound := maxIndex + 1
	indices := make([]uint64, decision.Fabricated)
	for i := range indices {
		indices[i] = uint64(m.source.NextInt(int(bound)))
	}
	return indices, nil
}
