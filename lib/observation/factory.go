// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observation

import (
	"errors"
	"fmt"
	"slices"

	"github.com/bureau-foundation/cobalt/lib/eventvector"
)

var (
	// ErrMalformedRandomID is returned when a random id is not exactly
	// RandomIDSize bytes.
	ErrMalformedRandomID = errors.New("observation: malformed random id")

	// ErrMalformedHistogram is returned when a string histogram's
	// buckets do not line up with its hashes.
	ErrMalformedHistogram = errors.New("observation: malformed string histogram")
)

func checkRandomID(randomID []byte) error {
	if len(randomID) != RandomIDSize {
		return fmt.Errorf("%w: %d bytes, want %d", ErrMalformedRandomID, len(randomID), RandomIDSize)
	}
	return nil
}

// NewIntegerObservation returns an integer observation holding one
// slot. value must already have been checked against the report's
// limits.
func NewIntegerObservation(ev eventvector.EventVector, value int64, randomID []byte) (Observation, error) {
	if err := checkRandomID(randomID); err != nil {
		return Observation{}, err
	}
	return Observation{
		RandomID: slices.Clone(randomID),
		Integer:  &Integer{Values: []IntegerValue{{EventVector: ev, Value: value}}},
	}, nil
}

// NewIntegerObservationPair returns an integer observation holding two
// slots in argument order.
func NewIntegerObservationPair(ev1 eventvector.EventVector, v1 int64, ev2 eventvector.EventVector, v2 int64, randomID []byte) (Observation, error) {
	if err := checkRandomID(randomID); err != nil {
		return Observation{}, err
	}
	return Observation{
		RandomID: slices.Clone(randomID),
		Integer: &Integer{Values: []IntegerValue{
			{EventVector: ev1, Value: v1},
			{EventVector: ev2, Value: v2},
		}},
	}, nil
}

// NewPrivateIndexObservation returns an observation of a single
// private index.
func NewPrivateIndexObservation(index uint64, randomID []byte) (Observation, error) {
	if err := checkRandomID(randomID); err != nil {
		return Observation{}, err
	}
	return Observation{
		RandomID:     slices.Clone(randomID),
		PrivateIndex: &PrivateIndex{Index: index},
	}, nil
}

// NewReportParticipationObservation returns a participation marker.
func NewReportParticipationObservation(randomID []byte) (Observation, error) {
	if err := checkRandomID(randomID); err != nil {
		return Observation{}, err
	}
	return Observation{
		RandomID:            slices.Clone(randomID),
		ReportParticipation: &ReportParticipation{},
	}, nil
}

// NewStringHistogramObservation returns a string histogram. hashes are
// ordered by their list index; every bucket index must point into
// hashes and every histogram must have parallel index and count slices.
func NewStringHistogramObservation(hashes [][]byte, histograms []IndexHistogram, randomID []byte) (Observation, error) {
	if err := checkRandomID(randomID); err != nil {
		return Observation{}, err
	}

	copiedHashes := make([][]byte, len(hashes))
	for i, hash := range hashes {
		copiedHashes[i] = slices.Clone(hash)
	}
	copiedHistograms := make([]IndexHistogram, len(histograms))
	for i, histogram := range histograms {
		if len(histogram.BucketIndices) != len(histogram.BucketCounts) {
			return Observation{}, fmt.Errorf("%w: event vector %v has %d indices and %d counts",
				ErrMalformedHistogram, histogram.EventVector, len(histogram.BucketIndices), len(histogram.BucketCounts))
		}
		for _, index := range histogram.BucketIndices {
			if int(index) >= len(hashes) {
				return Observation{}, fmt.Errorf("%w: bucket index %d with %d strings",
					ErrMalformedHistogram, index, len(hashes))
			}
		}
		copiedHistograms[i] = IndexHistogram{
			EventVector:   histogram.EventVector,
			BucketIndices: slices.Clone(histogram.BucketIndices),
			BucketCounts:  slices.Clone(histogram.BucketCounts),
		}
	}

	return Observation{
		RandomID: slices.Clone(randomID),
		StringHistogram: &StringHistogram{
			StringHashes: copiedHashes,
			Histograms:   copiedHistograms,
		},
	}, nil
}
