// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observation

import (
	"github.com/bureau-foundation/cobalt/lib/eventvector"
)

// RandomIDSize is the length of Observation.RandomID in bytes.
const RandomIDSize = 8

// Observation is one privacy-safe contribution for a report. Exactly
// one of the variant pointers is set.
type Observation struct {
	// RandomID lets the backend deduplicate and shuffle observations.
	// It carries no identity.
	RandomID []byte `cbor:"1,keyasint"`

	Integer             *Integer             `cbor:"2,keyasint,omitempty"`
	PrivateIndex        *PrivateIndex        `cbor:"3,keyasint,omitempty"`
	ReportParticipation *ReportParticipation `cbor:"4,keyasint,omitempty"`
	StringHistogram     *StringHistogram     `cbor:"5,keyasint,omitempty"`
}

// Integer carries one or two event vector and value pairs, in the order
// they were given to the factory.
type Integer struct {
	Values []IntegerValue `cbor:"1,keyasint"`
}

// IntegerValue is one (event vector, value) slot.
type IntegerValue struct {
	EventVector eventvector.EventVector `cbor:"1,keyasint"`
	Value       int64                   `cbor:"2,keyasint"`
}

// PrivateIndex is a single index into a report's private index space,
// real or fabricated. The backend cannot tell which.
type PrivateIndex struct {
	Index uint64 `cbor:"1,keyasint"`
}

// ReportParticipation records that the device took part in a report
// for a day. Emitted once per report and day under shuffled
// differential privacy so the backend can count contributors.
type ReportParticipation struct{}

// StringHistogram is the per-day observation for a string count
// report. Buckets index into StringHashes.
type StringHistogram struct {
	StringHashes [][]byte         `cbor:"1,keyasint"`
	Histograms   []IndexHistogram `cbor:"2,keyasint,omitempty"`
}

// IndexHistogram holds the buckets recorded for one event vector.
// BucketIndices and BucketCounts are parallel.
type IndexHistogram struct {
	EventVector   eventvector.EventVector `cbor:"1,keyasint"`
	BucketIndices []uint32                `cbor:"2,keyasint"`
	BucketCounts  []int64                 `cbor:"3,keyasint"`
}

// Kind names the variant carried by the observation.
func (o Observation) Kind() string {
	switch {
	case o.Integer != nil:
		return "integer"
	case o.PrivateIndex != nil:
		return "private_index"
	case o.ReportParticipation != nil:
		return "report_participation"
	case o.StringHistogram != nil:
		return "string_histogram"
	default:
		return "empty"
	}
}

// variantCount returns how many variant pointers are set. A valid
// Observation has exactly one.
func (o Observation) variantCount() int {
	count := 0
	if o.Integer != nil {
		count++
	}
	if o.PrivateIndex != nil {
		count++
	}
	if o.ReportParticipation != nil {
		count++
	}
	if o.StringHistogram != nil {
		count++
	}
	return count
}
