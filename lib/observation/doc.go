// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package observation defines the wire records the collection pipeline
// produces: Observation, the per-report ObservationBatch, the Envelope
// that carries batches to the backend, and EncryptedMessage, the only
// form handed to the network.
//
// The constructors in factory.go are pure functions of their inputs.
// Random identifiers are supplied by the caller, never generated here,
// so tests can pin them. Every constructor copies its slice arguments;
// an Observation returned by this package shares no memory with the
// caller.
//
// All records encode as deterministic CBOR with integer keys via
// lib/codec.
package observation
