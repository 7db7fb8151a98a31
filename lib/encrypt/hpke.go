// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package encrypt

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/cobalt/lib/compress"
	"github.com/bureau-foundation/cobalt/lib/observation"
)

// RFC 9180 identifiers for DHKEM(X25519, HKDF-SHA256), HKDF-SHA256,
// ChaCha20Poly1305.
const (
	kemID  = 0x0020
	kdfID  = 0x0001
	aeadID = 0x0003

	// encSize is the size of the encapsulated ephemeral public key that
	// prefixes every HPKE ciphertext.
	encSize = curve25519.PointSize
)

var (
	kemSuiteID  = binary.BigEndian.AppendUint16([]byte("KEM"), kemID)
	hpkeSuiteID = binary.BigEndian.AppendUint16(binary.BigEndian.AppendUint16(
		binary.BigEndian.AppendUint16([]byte("HPKE"), kemID), kdfID), aeadID)
)

// ErrShortCiphertext is returned when a ciphertext is too short to hold
// an encapsulated key and a tag.
var ErrShortCiphertext = errors.New("encrypt: ciphertext too short")

func labeledExtract(suiteID, salt []byte, label string, ikm []byte) []byte {
	input := make([]byte, 0, 7+len(suiteID)+len(label)+len(ikm))
	input = append(input, "HPKE-v1"...)
	input = append(input, suiteID...)
	input = append(input, label...)
	input = append(input, ikm...)
	return hkdf.Extract(sha256.New, input, salt)
}

func labeledExpand(suiteID, prk []byte, label string, info []byte, length int) ([]byte, error) {
	labeled := binary.BigEndian.AppendUint16(nil, uint16(length))
	labeled = append(labeled, "HPKE-v1"...)
	labeled = append(labeled, suiteID...)
	labeled = append(labeled, label...)
	labeled = append(labeled, info...)

	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, labeled), out); err != nil {
		return nil, fmt.Errorf("encrypt: hkdf expand %s: %w", label, err)
	}
	return out, nil
}

// sharedSecret derives the DHKEM shared secret from a Diffie-Hellman
// output and the kem context enc || pkR.
func sharedSecret(dh, enc, recipient []byte) ([]byte, error) {
	kemContext := append(append([]byte{}, enc...), recipient...)
	prk := labeledExtract(kemSuiteID, nil, "eae_prk", dh)
	return labeledExpand(kemSuiteID, prk, "shared_secret", kemContext, 32)
}

// keySchedule derives the AEAD key and base nonce for base mode.
func keySchedule(shared, info []byte) (key, nonce []byte, err error) {
	pskIDHash := labeledExtract(hpkeSuiteID, nil, "psk_id_hash", nil)
	infoHash := labeledExtract(hpkeSuiteID, nil, "info_hash", info)
	context := append(append([]byte{0x00}, pskIDHash...), infoHash...)

	secret := labeledExtract(hpkeSuiteID, shared, "secret", nil)
	if key, err = labeledExpand(hpkeSuiteID, secret, "key", context, chacha20poly1305.KeySize); err != nil {
		return nil, nil, err
	}
	if nonce, err = labeledExpand(hpkeSuiteID, secret, "base_nonce", context, chacha20poly1305.NonceSize); err != nil {
		return nil, nil, err
	}
	return key, nonce, nil
}

// hpkeSeal encrypts a single message to recipient in base mode and
// returns enc || ciphertext.
func hpkeSeal(recipient []byte, info, aad, plaintext []byte, random io.Reader) ([]byte, error) {
	ephemeral := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(random, ephemeral); err != nil {
		return nil, fmt.Errorf("encrypt: ephemeral key: %w", err)
	}
	enc, err := curve25519.X25519(ephemeral, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("encrypt: ephemeral public key: %w", err)
	}
	dh, err := curve25519.X25519(ephemeral, recipient)
	if err != nil {
		return nil, fmt.Errorf("encrypt: key agreement: %w", err)
	}
	shared, err := sharedSecret(dh, enc, recipient)
	if err != nil {
		return nil, err
	}
	key, nonce, err := keySchedule(shared, info)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("encrypt: aead: %w", err)
	}
	// The first and only message uses sequence number 0, so the nonce
	// is the base nonce unchanged.
	return aead.Seal(enc, nonce, plaintext, aad), nil
}

// hpkeOpen reverses hpkeSeal with the recipient's private key.
func hpkeOpen(private []byte, info, aad, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < encSize+chacha20poly1305.Overhead {
		return nil, ErrShortCiphertext
	}
	enc, sealed := ciphertext[:encSize], ciphertext[encSize:]
	recipient, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("encrypt: deriving public key: %w", err)
	}
	dh, err := curve25519.X25519(private, enc)
	if err != nil {
		return nil, fmt.Errorf("encrypt: key agreement: %w", err)
	}
	shared, err := sharedSecret(dh, enc, recipient)
	if err != nil {
		return nil, err
	}
	key, nonce, err := keySchedule(shared, info)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("encrypt: aead: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("encrypt: opening: %w", err)
	}
	return plaintext, nil
}

// ParseHPKEPublicKey decodes a base64 X25519 public key.
func ParseHPKEPublicKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("encrypt: decoding public key: %w", err)
	}
	if len(key) != curve25519.PointSize {
		return nil, fmt.Errorf("encrypt: public key is %d bytes, want %d", len(key), curve25519.PointSize)
	}
	return key, nil
}

// HPKE is the production Encrypter.
type HPKE struct {
	publicKey   []byte
	keyIndex    uint32
	environment string
	compression compress.Tag
	random      io.Reader
	logger      *slog.Logger
}

// NewHPKE returns an HPKE Encrypter for cfg.
func NewHPKE(cfg Config) (*HPKE, error) {
	publicKey, err := ParseHPKEPublicKey(cfg.PublicKey)
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &HPKE{
		publicKey:   publicKey,
		keyIndex:    cfg.KeyIndex,
		environment: cfg.Environment,
		compression: cfg.Compression,
		random:      randomReader(cfg.Random),
		logger:      cfg.Logger.With("scheme", SchemeHPKE, "key", Fingerprint(cfg.PublicKey)),
	}, nil
}

func (h *HPKE) EncryptObservation(meta observation.Metadata, obs observation.Observation, contributionID []byte) observation.EncryptedMessage {
	plaintext, err := observation.Marshal(obs)
	if err != nil {
		h.logger.Error("encoding observation failed", "metadata", meta.String(), "error", err)
		return Empty(h.environment, SchemeHPKE)
	}
	aad, err := observationAssociatedData(meta, contributionID)
	if err != nil {
		h.logger.Error("encoding observation context failed", "metadata", meta.String(), "error", err)
		return Empty(h.environment, SchemeHPKE)
	}
	ciphertext, err := hpkeSeal(h.publicKey, info(h.environment, kindObservation, h.keyIndex), aad, plaintext, h.random)
	if err != nil {
		h.logger.Error("observation encryption failed", "metadata", meta.String(), "error", err)
		return Empty(h.environment, SchemeHPKE)
	}
	return observation.EncryptedMessage{
		Ciphertext:     ciphertext,
		ContributionID: contributionID,
		KeyIndex:       h.keyIndex,
		Environment:    h.environment,
		Scheme:         string(SchemeHPKE),
	}
}

func (h *HPKE) EncryptEnvelope(env observation.Envelope) observation.EncryptedMessage {
	plaintext, err := observation.EncodeEnvelope(env, h.compression)
	if err != nil {
		h.logger.Error("encoding envelope failed", "error", err)
		return Empty(h.environment, SchemeHPKE)
	}
	ciphertext, err := hpkeSeal(h.publicKey, info(h.environment, kindEnvelope, h.keyIndex), nil, plaintext, h.random)
	if err != nil {
		h.logger.Error("envelope encryption failed", "error", err)
		return Empty(h.environment, SchemeHPKE)
	}
	return observation.EncryptedMessage{
		Ciphertext:  ciphertext,
		KeyIndex:    h.keyIndex,
		Environment: h.environment,
		Scheme:      string(SchemeHPKE),
	}
}
