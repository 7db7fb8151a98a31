// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package securerandom abstracts the cryptographically secure random
// source behind random ids, contribution ids, and privacy noise draws.
//
// Production code uses System. Tests substitute Constant or Sequence,
// which are separate implementations of Source rather than overrides of
// System, so the noise branch taken for a given draw is reproducible.
package securerandom

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
)

// Source yields random bytes, doubles, and bounded integers.
type Source interface {
	// NextBytes returns n random bytes.
	NextBytes(n int) ([]byte, error)

	// NextDouble returns a value uniformly distributed in [0, 1).
	NextDouble() float64

	// NextInt returns a value uniformly distributed in [0, bound).
	// Panics if bound <= 0.
	NextInt(bound int) int
}

// Reader adapts a Source to io.Reader, for libraries such as
// google/uuid that draw randomness from a reader.
type Reader struct{ Source Source }

func (r Reader) Read(p []byte) (int, error) {
	random, err := r.Source.NextBytes(len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, random), nil
}

// System returns the operating system's CSPRNG.
func System() Source { return system{} }

type system struct{}

func (system) NextBytes(n int) ([]byte, error) {
	buffer := make([]byte, n)
	if _, err := rand.Read(buffer); err != nil {
		return nil, fmt.Errorf("securerandom: reading %d bytes: %w", n, err)
	}
	return buffer, nil
}

// NextDouble uses the top 53 bits of a random uint64, the full
// precision of a float64 mantissa.
func (s system) NextDouble() float64 {
	var buffer [8]byte
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(buffer[:])
	return float64(binary.BigEndian.Uint64(buffer[:])>>11) / (1 << 53)
}

func (system) NextInt(bound int) int {
	if bound <= 0 {
		panic("securerandom: NextInt bound must be positive")
	}
	// Rejection sampling keeps the result unbiased for bounds that do
	// not divide 2^64.
	limit := ^uint64(0) - (^uint64(0) % uint64(bound))
	var buffer [8]byte
	for {
		_, _ = rand.Read(buffer[:])
		value := binary.BigEndian.Uint64(buffer[:])
		if value < limit {
			return int(value % uint64(bound))
		}
	}
}

// DefaultConstantDouble is the draw Constant returns unless told
// otherwise. It lies above e^-0.1, so the noise mechanism fabricates
// for every lambda of at least 0.1.
const DefaultConstantDouble = 0.905

// Constant is a deterministic Source for tests. Every byte it yields is
// Fill and every double is Double.
type Constant struct {
	Fill   byte
	Double float64
}

// NewConstant returns a Constant filling bytes with 1 and returning
// DefaultConstantDouble.
func NewConstant() *Constant {
	return &Constant{Fill: 1, Double: DefaultConstantDouble}
}

func (c *Constant) NextBytes(n int) ([]byte, error) {
	buffer := make([]byte, n)
	for i := range buffer {
		buffer[i] = c.Fill
	}
	return buffer, nil
}

func (c *Constant) NextDouble() float64 { return c.Double }

func (c *Constant) NextInt(bound int) int {
	if bound <= 0 {
		panic("securerandom: NextInt bound must be positive")
	}
	return int(c.Double * float64(bound))
}

// Sequence is a deterministic Source that replays Doubles in order,
// wrapping around when exhausted. Bytes come from an incrementing
// counter so consecutive ids differ. Safe for concurrent use.
type Sequence struct {
	mu      sync.Mutex
	doubles []float64
	next    int
	counter byte
}

// NewSequence returns a Sequence replaying doubles. At least one value
// is required.
func NewSequence(doubles ...float64) *Sequence {
	if len(doubles) == 0 {
		panic("securerandom: NewSequence needs at least one value")
	}
	return &Sequence{doubles: doubles}
}

func (s *Sequence) NextBytes(n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	buffer := make([]byte, n)
	for i := range buffer {
		buffer[i] = s.counter
	}
	return buffer, nil
}

func (s *Sequence) NextDouble() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	value := s.doubles[s.next%len(s.doubles)]
	s.next++
	return value
}

func (s *Sequence) NextInt(bound int) int {
	if bound <= 0 {
		panic("securerandom: NextInt bound must be positive")
	}
	return int(s.NextDouble() * float64(bound))
}
