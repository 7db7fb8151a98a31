// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single CBOR configuration for everything the
// pipeline puts on the wire or feeds into a cryptographic binding:
// observations, envelopes, encryption context, and upload bodies.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2). The same
// logical value always produces the same bytes, which is what makes
// the no-op encrypter idempotent and lets metadata serve as
// authenticated data for HPKE.
//
// Decoding rejects duplicate map keys. Every decoded payload came from
// an untrusted transport or an on-disk file, and a duplicate key is a
// sign of tampering rather than a forward-compatibility concern.
//
// Wire types use integer keys (`cbor:"1,keyasint"`) to keep envelopes
// small. Config-adjacent types use string keys.
package codec
