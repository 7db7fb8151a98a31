// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package privacy

import "math"

// Sampler maps a uniform draw u in [0,1) to a count of fabricated
// observations for noise parameter lambda.
type Sampler interface {
	Sample(lambda, u float64) int
}

// maxFabricated caps any single sample so a pathological λ cannot
// flood an envelope.
const maxFabricated = 1 << 10

// Poisson samples by inverting the Poisson CDF with mean λ.
type Poisson struct{}

func (Poisson) Sample(lambda, u float64) int {
	probability := math.Exp(-lambda)
	cumulative := probability
	k := 0
	for u > cumulative && k < maxFabricated {
		k++
		probability *= lambda / float64(k)
		cumulative += probability
		if probability == 0 {
			// Underflow: the remaining tail is below float precision.
			break
		}
	}
	return k
}

// Bernoulli fabricates exactly one observation with probability P,
// independent of λ.
type Bernoulli struct{ P float64 }

func (b Bernoulli) Sample(_, u float64) int {
	if u >= 1-b.P {
		return 1
	}
	return 0
}
