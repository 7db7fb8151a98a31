// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestGenerateKeypair(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	if !strings.HasPrefix(keypair.PrivateKey.String(), "AGE-SECRET-KEY-1") {
		t.Errorf("private key has unexpected prefix")
	}
	if !strings.HasPrefix(keypair.PublicKey, "age1") {
		t.Errorf("PublicKey = %q, want prefix age1", keypair.PublicKey)
	}
	if err := ParsePublicKey(keypair.PublicKey); err != nil {
		t.Errorf("ParsePublicKey(generated): %v", err)
	}
	if err := ParsePublicKey("age1notakey"); err == nil {
		t.Error("ParsePublicKey accepted garbage")
	}
}

func TestSealOpen(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	context := []byte("cobalt/production/observation")
	plaintext := []byte("observation bytes")
	ciphertext, err := Seal(plaintext, context, keypair.PublicKey)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Fatal("ciphertext contains the plaintext")
	}

	opened, err := Open(ciphertext, context, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open = %q, want %q", opened, plaintext)
	}
}

func TestOpenRejectsOtherContext(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	ciphertext, err := Seal([]byte("x"), []byte("staging"), keypair.PublicKey)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(ciphertext, []byte("production"), keypair.PrivateKey); !errors.Is(err, ErrContextMismatch) {
		t.Fatalf("Open with other context = %v, want ErrContextMismatch", err)
	}
}

func TestOpenRejectsOtherKey(t *testing.T) {
	sender, _ := GenerateKeypair()
	defer sender.Close()
	other, _ := GenerateKeypair()
	defer other.Close()

	ciphertext, err := Seal([]byte("x"), nil, sender.PublicKey)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(ciphertext, nil, other.PrivateKey); err == nil {
		t.Fatal("Open succeeded with the wrong identity")
	}
}
