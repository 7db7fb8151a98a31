// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package encrypt

import (
	"github.com/bureau-foundation/cobalt/lib/compress"
	"github.com/bureau-foundation/cobalt/lib/observation"
)

// NoOp passes plaintext through as ciphertext. Output is a pure
// function of the input, so encrypting the same value twice yields the
// same bytes.
type NoOp struct {
	Environment string
	KeyIndex    uint32
	Compression compress.Tag
}

func (n *NoOp) EncryptObservation(_ observation.Metadata, obs observation.Observation, contributionID []byte) observation.EncryptedMessage {
	plaintext, err := observation.Marshal(obs)
	if err != nil {
		return Empty(n.Environment, SchemeNone)
	}
	return observation.EncryptedMessage{
		Ciphertext:     plaintext,
		ContributionID: contributionID,
		KeyIndex:       n.KeyIndex,
		Environment:    n.Environment,
		Scheme:         string(SchemeNone),
	}
}

func (n *NoOp) EncryptEnvelope(env observation.Envelope) observation.EncryptedMessage {
	plaintext, err := observation.EncodeEnvelope(env, n.Compression)
	if err != nil {
		return Empty(n.Environment, SchemeNone)
	}
	return observation.EncryptedMessage{
		Ciphertext:  plaintext,
		KeyIndex:    n.KeyIndex,
		Environment: n.Environment,
		Scheme:      string(SchemeNone),
	}
}
