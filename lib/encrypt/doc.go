// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package encrypt binds observations and envelopes to the backend's
// public key.
//
// Three Encrypter variants share one interface and are chosen by
// configuration through [New]:
//
//   - HPKE: RFC 9180 base mode with DHKEM(X25519, HKDF-SHA256),
//     HKDF-SHA256, and ChaCha20-Poly1305.
//   - Age: an age X25519 recipient, with the binding context sealed
//     alongside the payload (see lib/sealed).
//   - NoOp: the deterministic plaintext serialized as the "ciphertext",
//     for pipelines under test and for local development.
//
// Every ciphertext is bound to a context made of the environment, the
// message kind (observation or envelope), and the key index. An
// observation is additionally bound to its metadata and contribution
// id, so a relay cannot move an observation between reports or replay
// it under a different contribution id.
//
// Encryption never returns an error. A failure is logged and signalled
// by an empty message (see observation.EncryptedMessage.IsEmpty). The
// caller drops that one message and carries on with the cycle.
package encrypt
