// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed seals payloads to an age X25519 recipient with a bound
// context.
//
// age authenticates the payload but has no associated-data input, so
// Seal wraps the plaintext together with its context in a CBOR record
// before encrypting. Open decrypts and rejects the result unless the
// embedded context matches the one the caller expects. A ciphertext
// produced for one metric or environment therefore fails to open as
// another, the same guarantee HPKE gives through its info and aad
// inputs.
//
// Ciphertext is raw age binary; callers carry it inside CBOR.
package sealed
