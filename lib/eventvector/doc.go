// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventvector defines EventVector, the immutable tuple of
// per-dimension event codes that identifies one slice of a metric.
//
// An EventVector is a comparable value: two vectors with the same codes
// are == and interchangeable as map keys. The codes are packed into an
// unexported string, so callers cannot mutate a vector after
// construction and copying one is free.
package eventvector
