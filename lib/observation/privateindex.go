// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observation

import (
	"errors"
	"fmt"
	"math"

	"github.com/bureau-foundation/cobalt/lib/eventvector"
)

// ErrEventCodeOutOfRange is returned when an event vector does not fit
// the metric's dimensions.
var ErrEventCodeOutOfRange = errors.New("observation: event code out of range")

// EventVectorIndex maps ev into [0, MaxEventVectorIndex(maxCodes)] in
// mixed radix, dimension 0 least significant. maxCodes holds the
// largest allowed code per dimension.
func EventVectorIndex(ev eventvector.EventVector, maxCodes []uint32) (uint64, error) {
	if ev.Len() != len(maxCodes) {
		return 0, fmt.Errorf("%w: %d codes for %d dimensions", ErrEventCodeOutOfRange, ev.Len(), len(maxCodes))
	}
	var index, multiplier uint64 = 0, 1
	for i, maxCode := range maxCodes {
		code := ev.Code(i)
		if code > maxCode {
			return 0, fmt.Errorf("%w: dimension %d code %d exceeds %d", ErrEventCodeOutOfRange, i, code, maxCode)
		}
		index += uint64(code) * multiplier
		multiplier *= uint64(maxCode) + 1
	}
	return index, nil
}

// MaxEventVectorIndex is the largest value EventVectorIndex can return.
func MaxEventVectorIndex(maxCodes []uint32) uint64 {
	var product uint64 = 1
	for _, maxCode := range maxCodes {
		product *= uint64(maxCode) + 1
	}
	return product - 1
}

// ValueIndex clamps value to [minValue, maxValue] and places it on
// numIndexPoints evenly spaced points. A value between two points goes
// to the upper one with probability equal to its fractional distance,
// decided by the uniform draw u, so the expected index is unbiased.
func ValueIndex(value, minValue, maxValue int64, numIndexPoints uint32, u float64) uint32 {
	if numIndexPoints <= 1 || maxValue <= minValue {
		return 0
	}
	value = min(max(value, minValue), maxValue)
	interval := float64(maxValue-minValue) / float64(numIndexPoints-1)
	position := float64(value-minValue) / interval
	lower := math.Floor(position)
	index := uint32(lower)
	if u < position-lower && index < numIndexPoints-1 {
		index++
	}
	return index
}

// CombinePrivateIndex combines an event vector index and a value index into a
// single index, value index most significant.
func CombinePrivateIndex(eventVectorIndex, maxEventVectorIndex uint64, valueIndex uint32) uint64 {
	return uint64(valueIndex)*(maxEventVectorIndex+1) + eventVectorIndex
}

// MaxPrivateIndex is the largest index CombinePrivateIndex can produce for a
// report.
func MaxPrivateIndex(maxCodes []uint32, numIndexPoints uint32) uint64 {
	points := uint64(max(numIndexPoints, 1))
	return points*(MaxEventVectorIndex(maxCodes)+1) - 1
}
