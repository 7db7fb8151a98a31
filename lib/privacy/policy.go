// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package privacy

import (
	"errors"
	"fmt"
	"math"
)

// DefaultMinChaffLambda is the smallest λ for which chaff is generated.
const DefaultMinChaffLambda = 0.1

var (
	// ErrInvalidLambda is returned for a negative or non-finite λ or
	// MinChaffLambda.
	ErrInvalidLambda = errors.New("privacy: invalid lambda")

	// ErrMissingPolicy is returned when a slot has no policy.
	ErrMissingPolicy = errors.New("privacy: missing report policy")
)

// Policy is the noise configuration of one report.
type Policy struct {
	// Lambda is the noise intensity, the Poisson mean for shuffled
	// differential privacy reports.
	Lambda float64

	// MinChaffLambda disables chaff for smaller λ. Zero means
	// DefaultMinChaffLambda.
	MinChaffLambda float64

	// SuppressZero drops slots whose true value is zero when no chaff
	// is fabricated for them.
	SuppressZero bool
}

// Validate reports a configuration error for malformed policies.
func (p *Policy) Validate() error {
	if p == nil {
		return ErrMissingPolicy
	}
	if p.Lambda < 0 || math.IsNaN(p.Lambda) || math.IsInf(p.Lambda, 0) {
		return fmt.Errorf("%w: lambda %v", ErrInvalidLambda, p.Lambda)
	}
	if p.MinChaffLambda < 0 || math.IsNaN(p.MinChaffLambda) || math.IsInf(p.MinChaffLambda, 0) {
		return fmt.Errorf("%w: min chaff lambda %v", ErrInvalidLambda, p.MinChaffLambda)
	}
	return nil
}

// ChaffEnabled reports whether λ is large enough to fabricate.
func (p *Policy) ChaffEnabled() bool {
	threshold := p.MinChaffLambda
	if threshold == 0 {
		threshold = DefaultMinChaffLambda
	}
	return p.Lambda >= threshold
}
