// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package encrypt

import (
	"log/slog"

	"github.com/bureau-foundation/cobalt/lib/compress"
	"github.com/bureau-foundation/cobalt/lib/observation"
	"github.com/bureau-foundation/cobalt/lib/sealed"
)

// Age seals to an age X25519 recipient.
type Age struct {
	recipient   string
	keyIndex    uint32
	environment string
	compression compress.Tag
	logger      *slog.Logger
}

// NewAge returns an age Encrypter for cfg.
func NewAge(cfg Config) (*Age, error) {
	if err := sealed.ParsePublicKey(cfg.PublicKey); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Age{
		recipient:   cfg.PublicKey,
		keyIndex:    cfg.KeyIndex,
		environment: cfg.Environment,
		compression: cfg.Compression,
		logger:      cfg.Logger.With("scheme", SchemeAge, "key", Fingerprint(cfg.PublicKey)),
	}, nil
}

func (a *Age) EncryptObservation(meta observation.Metadata, obs observation.Observation, contributionID []byte) observation.EncryptedMessage {
	plaintext, err := observation.Marshal(obs)
	if err != nil {
		a.logger.Error("encoding observation failed", "metadata", meta.String(), "error", err)
		return Empty(a.environment, SchemeAge)
	}
	aad, err := observationAssociatedData(meta, contributionID)
	if err != nil {
		a.logger.Error("encoding observation context failed", "metadata", meta.String(), "error", err)
		return Empty(a.environment, SchemeAge)
	}
	context := sealedContext(info(a.environment, kindObservation, a.keyIndex), aad)
	ciphertext, err := sealed.Seal(plaintext, context, a.recipient)
	if err != nil {
		a.logger.Error("observation encryption failed", "metadata", meta.String(), "error", err)
		return Empty(a.environment, SchemeAge)
	}
	return observation.EncryptedMessage{
		Ciphertext:     ciphertext,
		ContributionID: contributionID,
		KeyIndex:       a.keyIndex,
		Environment:    a.environment,
		Scheme:         string(SchemeAge),
	}
}

func (a *Age) EncryptEnvelope(env observation.Envelope) observation.EncryptedMessage {
	plaintext, err := observation.EncodeEnvelope(env, a.compression)
	if err != nil {
		a.logger.Error("encoding envelope failed", "error", err)
		return Empty(a.environment, SchemeAge)
	}
	context := sealedContext(info(a.environment, kindEnvelope, a.keyIndex), nil)
	ciphertext, err := sealed.Seal(plaintext, context, a.recipient)
	if err != nil {
		a.logger.Error("envelope encryption failed", "error", err)
		return Empty(a.environment, SchemeAge)
	}
	return observation.EncryptedMessage{
		Ciphertext:  ciphertext,
		KeyIndex:    a.keyIndex,
		Environment: a.environment,
		Scheme:      string(SchemeAge),
	}
}
