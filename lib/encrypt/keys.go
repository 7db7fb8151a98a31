// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package encrypt

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/curve25519"

	"github.com/bureau-foundation/cobalt/lib/sealed"
	"github.com/bureau-foundation/cobalt/lib/secret"
	"github.com/bureau-foundation/cobalt/lib/securerandom"
)

// Keypair is a private key in locked memory plus its public key in the
// configuration encoding of its scheme.
type Keypair struct {
	Scheme     Scheme
	PrivateKey *secret.Buffer
	PublicKey  string
}

// Close releases the private key.
func (k *Keypair) Close() error {
	if k.PrivateKey == nil {
		return nil
	}
	return k.PrivateKey.Close()
}

// GenerateKeypair creates a keypair for scheme. HPKE private keys are
// stored base64-encoded so that key files are text for every scheme.
func GenerateKeypair(scheme Scheme) (*Keypair, error) {
	switch scheme {
	case SchemeAge:
		generated, err := sealed.GenerateKeypair()
		if err != nil {
			return nil, err
		}
		return &Keypair{Scheme: SchemeAge, PrivateKey: generated.PrivateKey, PublicKey: generated.PublicKey}, nil

	case SchemeHPKE:
		scalar := make([]byte, curve25519.ScalarSize)
		defer secret.Zero(scalar)
		if _, err := io.ReadFull(securerandom.Reader{Source: securerandom.System()}, scalar); err != nil {
			return nil, fmt.Errorf("encrypt: generating key: %w", err)
		}
		public, err := curve25519.X25519(scalar, curve25519.Basepoint)
		if err != nil {
			return nil, fmt.Errorf("encrypt: deriving public key: %w", err)
		}
		encoded := make([]byte, base64.StdEncoding.EncodedLen(len(scalar)))
		base64.StdEncoding.Encode(encoded, scalar)
		private, err := secret.NewFromBytes(encoded)
		if err != nil {
			return nil, err
		}
		return &Keypair{Scheme: SchemeHPKE, PrivateKey: private, PublicKey: base64.StdEncoding.EncodeToString(public)}, nil

	default:
		return nil, fmt.Errorf("encrypt: scheme %q has no keys", scheme)
	}
}

// Fingerprint identifies a public key in logs without printing it:
// the first 8 bytes of its BLAKE3 hash, hex-encoded.
func Fingerprint(publicKey string) string {
	sum := blake3.Sum256([]byte(publicKey))
	return hex.EncodeToString(sum[:8])
}
