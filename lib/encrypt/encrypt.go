// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package encrypt

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bureau-foundation/cobalt/lib/compress"
	"github.com/bureau-foundation/cobalt/lib/observation"
	"github.com/bureau-foundation/cobalt/lib/securerandom"
)

// Encrypter seals observations and envelopes for upload.
type Encrypter interface {
	// EncryptObservation seals obs bound to meta and contributionID.
	EncryptObservation(meta observation.Metadata, obs observation.Observation, contributionID []byte) observation.EncryptedMessage

	// EncryptEnvelope seals an envelope of already-encrypted
	// observations.
	EncryptEnvelope(env observation.Envelope) observation.EncryptedMessage
}

// Scheme names an encryption scheme in configuration and on the wire.
type Scheme string

const (
	SchemeHPKE Scheme = "hpke"
	SchemeAge  Scheme = "age"
	SchemeNone Scheme = "none"
)

// ParseScheme validates a configured scheme name.
func ParseScheme(name string) (Scheme, error) {
	switch scheme := Scheme(name); scheme {
	case SchemeHPKE, SchemeAge, SchemeNone:
		return scheme, nil
	default:
		return "", fmt.Errorf("encrypt: unknown scheme %q", name)
	}
}

// ErrMissingKey is returned by New when a real scheme has no public
// key.
var ErrMissingKey = errors.New("encrypt: missing public key")

// Config selects and configures an Encrypter.
type Config struct {
	Scheme Scheme

	// PublicKey is base64 X25519 for HPKE or an "age1..." recipient.
	PublicKey string

	// KeyIndex identifies PublicKey to the backend. Must not be
	// observation.NoKeyIndex.
	KeyIndex uint32

	// Environment tags every message and is part of the bound context.
	Environment string

	// Compression is applied to envelope plaintext before sealing.
	Compression compress.Tag

	// Random supplies HPKE ephemeral keys. Nil means the system CSPRNG.
	Random securerandom.Source

	Logger *slog.Logger
}

// New returns the Encrypter for cfg.Scheme.
func New(cfg Config) (Encrypter, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.KeyIndex == observation.NoKeyIndex {
		return nil, fmt.Errorf("encrypt: key index %d is reserved", cfg.KeyIndex)
	}
	switch cfg.Scheme {
	case SchemeNone:
		return &NoOp{Environment: cfg.Environment, KeyIndex: cfg.KeyIndex, Compression: cfg.Compression}, nil
	case SchemeHPKE:
		if cfg.PublicKey == "" {
			return nil, ErrMissingKey
		}
		return NewHPKE(cfg)
	case SchemeAge:
		if cfg.PublicKey == "" {
			return nil, ErrMissingKey
		}
		return NewAge(cfg)
	default:
		return nil, fmt.Errorf("encrypt: unknown scheme %q", cfg.Scheme)
	}
}

// Empty returns the message that marks a failed encryption.
func Empty(environment string, scheme Scheme) observation.EncryptedMessage {
	return observation.EncryptedMessage{
		KeyIndex:    observation.NoKeyIndex,
		Environment: environment,
		Scheme:      string(scheme),
	}
}

func randomReader(source securerandom.Source) io.Reader {
	if source == nil {
		source = securerandom.System()
	}
	return securerandom.Reader{Source: source}
}
