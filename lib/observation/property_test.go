// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build property

package observation

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/bureau-foundation/cobalt/lib/eventvector"
)

// TestIntegerObservationRoundtrip checks that the factory and the wire
// encoding preserve value and event codes for arbitrary inputs.
func TestIntegerObservationRoundtrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("value and event codes survive construction and encoding", prop.ForAll(
		func(codes []uint32, value int64) bool {
			ev := eventvector.New(codes...)
			obs, err := NewIntegerObservation(ev, value, randomID)
			if err != nil {
				return false
			}
			data, err := Marshal(obs)
			if err != nil {
				return false
			}
			decoded, err := Unmarshal(data)
			if err != nil {
				return false
			}
			got := decoded.Integer.Values[0]
			return got.Value == value && got.EventVector == ev
		},
		gen.SliceOf(gen.UInt32()),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// TestIntegerObservationPairOrder checks that the two-slot observation
// keeps its slots in argument order.
func TestIntegerObservationPairOrder(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("pair keeps argument order", prop.ForAll(
		func(codes1, codes2 []uint32, v1, v2 int64) bool {
			ev1, ev2 := eventvector.New(codes1...), eventvector.New(codes2...)
			obs, err := NewIntegerObservationPair(ev1, v1, ev2, v2, randomID)
			if err != nil {
				return false
			}
			values := obs.Integer.Values
			return len(values) == 2 &&
				values[0].EventVector == ev1 && values[0].Value == v1 &&
				values[1].EventVector == ev2 && values[1].Value == v2
		},
		gen.SliceOf(gen.UInt32()),
		gen.SliceOf(gen.UInt32()),
		gen.Int64(),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
