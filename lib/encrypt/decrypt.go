// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package encrypt

import (
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/bureau-foundation/cobalt/lib/observation"
	"github.com/bureau-foundation/cobalt/lib/sealed"
	"github.com/bureau-foundation/cobalt/lib/secret"
)

// Decrypter opens messages produced by an Encrypter. The backend side
// of the pipeline and `cobalt decrypt` use it; the collection daemon
// never holds a private key.
type Decrypter struct {
	Scheme Scheme

	// PrivateKey is the age identity or the base64 HPKE scalar. Unused
	// for SchemeNone.
	PrivateKey *secret.Buffer
}

func (d *Decrypter) open(msg observation.EncryptedMessage, kind string, aad []byte) ([]byte, error) {
	if msg.IsEmpty() {
		return nil, fmt.Errorf("encrypt: message is empty")
	}
	if Scheme(msg.Scheme) != d.Scheme {
		return nil, fmt.Errorf("encrypt: message scheme %q, decrypter scheme %q", msg.Scheme, d.Scheme)
	}
	messageInfo := info(msg.Environment, kind, msg.KeyIndex)

	switch d.Scheme {
	case SchemeNone:
		return msg.Ciphertext, nil
	case SchemeHPKE:
		scalar, err := base64.StdEncoding.DecodeString(d.PrivateKey.String())
		if err != nil {
			return nil, fmt.Errorf("encrypt: decoding private key: %w", err)
		}
		defer secret.Zero(scalar)
		if len(scalar) != curve25519.ScalarSize {
			return nil, fmt.Errorf("encrypt: private key is %d bytes, want %d", len(scalar), curve25519.ScalarSize)
		}
		return hpkeOpen(scalar, messageInfo, aad, msg.Ciphertext)
	case SchemeAge:
		return sealed.Open(msg.Ciphertext, sealedContext(messageInfo, aad), d.PrivateKey)
	default:
		return nil, fmt.Errorf("encrypt: unknown scheme %q", d.Scheme)
	}
}

// OpenObservation decrypts an observation sealed under meta.
func (d *Decrypter) OpenObservation(msg observation.EncryptedMessage, meta observation.Metadata) (observation.Observation, error) {
	aad, err := observationAssociatedData(meta, msg.ContributionID)
	if err != nil {
		return observation.Observation{}, err
	}
	plaintext, err := d.open(msg, kindObservation, aad)
	if err != nil {
		return observation.Observation{}, err
	}
	return observation.Unmarshal(plaintext)
}

// OpenEnvelope decrypts and decodes an envelope.
func (d *Decrypter) OpenEnvelope(msg observation.EncryptedMessage) (observation.Envelope, error) {
	plaintext, err := d.open(msg, kindEnvelope, nil)
	if err != nil {
		return observation.Envelope{}, err
	}
	return observation.DecodeEnvelope(plaintext)
}
