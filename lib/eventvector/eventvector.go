// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventvector

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bureau-foundation/cobalt/lib/codec"
)

// ErrNegativeCode is returned when an event code is below zero.
var ErrNegativeCode = errors.New("eventvector: negative event code")

// EventVector is an ordered, immutable sequence of event codes. The
// zero value is the empty vector, used by metrics without dimensions.
type EventVector struct {
	// packed holds each code as 4 big-endian bytes. Big-endian keeps
	// the byte order of packed equal to the numeric order of the codes.
	packed string
}

// New returns a vector holding codes in order.
func New(codes ...uint32) EventVector {
	buffer := make([]byte, 4*len(codes))
	for i, code := range codes {
		binary.BigEndian.PutUint32(buffer[4*i:], code)
	}
	return EventVector{packed: string(buffer)}
}

// FromInts converts caller-supplied codes, rejecting negative values
// and values that do not fit in 32 bits.
func FromInts(codes []int) (EventVector, error) {
	converted := make([]uint32, len(codes))
	for i, code := range codes {
		if code < 0 {
			return EventVector{}, fmt.Errorf("%w: dimension %d is %d", ErrNegativeCode, i, code)
		}
		if uint64(code) > uint64(^uint32(0)) {
			return EventVector{}, fmt.Errorf("eventvector: dimension %d code %d overflows uint32", i, code)
		}
		converted[i] = uint32(code)
	}
	return New(converted...), nil
}

// Len returns the number of dimensions.
func (v EventVector) Len() int { return len(v.packed) / 4 }

// Code returns the code in dimension i. Panics if i is out of range.
func (v EventVector) Code(i int) uint32 {
	if i < 0 || i >= v.Len() {
		panic(fmt.Sprintf("eventvector: dimension %d out of range [0,%d)", i, v.Len()))
	}
	return binary.BigEndian.Uint32([]byte(v.packed[4*i : 4*i+4]))
}

// Codes returns a fresh copy of the codes.
func (v EventVector) Codes() []uint32 {
	codes := make([]uint32, v.Len())
	for i := range codes {
		codes[i] = v.Code(i)
	}
	return codes
}

// Equal reports whether v and other hold the same codes.
func (v EventVector) Equal(other EventVector) bool { return v.packed == other.packed }

// Compare orders vectors by dimension, with a strict prefix sorting
// first. Returns -1, 0, or +1.
func (v EventVector) Compare(other EventVector) int {
	return bytes.Compare([]byte(v.packed), []byte(other.packed))
}

// String renders the vector as "[1,5]".
func (v EventVector) String() string {
	var builder strings.Builder
	builder.WriteByte('[')
	for i := range v.Len() {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatUint(uint64(v.Code(i)), 10))
	}
	builder.WriteByte(']')
	return builder.String()
}

// Bytes returns the packed big-endian form, used as a storage key.
func (v EventVector) Bytes() []byte { return []byte(v.packed) }

// FromBytes reverses Bytes.
func FromBytes(packed []byte) (EventVector, error) {
	if len(packed)%4 != 0 {
		return EventVector{}, fmt.Errorf("eventvector: packed length %d is not a multiple of 4", len(packed))
	}
	return EventVector{packed: string(packed)}, nil
}

// MarshalCBOR encodes the vector as a CBOR array of unsigned integers.
func (v EventVector) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(v.Codes())
}

// UnmarshalCBOR decodes a CBOR array of unsigned integers.
func (v *EventVector) UnmarshalCBOR(data []byte) error {
	var codes []uint32
	if err := codec.Unmarshal(data, &codes); err != nil {
		return fmt.Errorf("eventvector: %w", err)
	}
	*v = New(codes...)
	return nil
}

// MarshalJSON encodes the vector as a JSON array.
func (v EventVector) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Codes())
}

// UnmarshalJSON decodes a JSON array of non-negative integers.
func (v *EventVector) UnmarshalJSON(data []byte) error {
	var codes []int
	if err := json.Unmarshal(data, &codes); err != nil {
		return fmt.Errorf("eventvector: %w", err)
	}
	parsed, err := FromInts(codes)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
