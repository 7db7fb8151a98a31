// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/bureau-foundation/cobalt/lib/codec"
	"github.com/bureau-foundation/cobalt/lib/secret"
)

// ErrContextMismatch is returned by Open when the sealed context differs
// from the expected one.
var ErrContextMismatch = errors.New("sealed: context mismatch")

// Keypair is an age X25519 identity and its recipient string.
type Keypair struct {
	// PrivateKey holds the "AGE-SECRET-KEY-1..." identity.
	PrivateKey *secret.Buffer

	// PublicKey is the "age1..." recipient.
	PublicKey string
}

// Close releases the private key.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair creates a fresh identity.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("sealed: generating identity: %w", err)
	}
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("sealed: protecting identity: %w", err)
	}
	return &Keypair{PrivateKey: privateKey, PublicKey: identity.Recipient().String()}, nil
}

// ParsePublicKey validates a recipient string.
func ParsePublicKey(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("sealed: invalid public key: %w", err)
	}
	return nil
}

// envelope is the record age encrypts.
type envelope struct {
	Context   []byte `cbor:"1,keyasint"`
	Plaintext []byte `cbor:"2,keyasint"`
}

// Seal encrypts plaintext bound to context for recipient.
func Seal(plaintext, context []byte, recipient string) ([]byte, error) {
	parsed, err := age.ParseX25519Recipient(recipient)
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing recipient: %w", err)
	}
	wrapped, err := codec.Marshal(envelope{Context: context, Plaintext: plaintext})
	if err != nil {
		return nil, fmt.Errorf("sealed: encoding: %w", err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, parsed)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating encryptor: %w", err)
	}
	if _, err := writer.Write(wrapped); err != nil {
		return nil, fmt.Errorf("sealed: writing plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("sealed: finalizing: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// Open decrypts ciphertext with privateKey and checks that it was
// sealed under context.
func Open(ciphertext, context []byte, privateKey *secret.Buffer) ([]byte, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing private key: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}
	wrapped, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}

	var opened envelope
	if err := codec.Unmarshal(wrapped, &opened); err != nil {
		return nil, fmt.Errorf("sealed: decoding: %w", err)
	}
	if subtle.ConstantTimeCompare(opened.Context, context) != 1 {
		return nil, ErrContextMismatch
	}
	return opened.Plaintext, nil
}
