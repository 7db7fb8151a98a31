// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observation

import (
	"fmt"
	"math"

	"github.com/bureau-foundation/cobalt/lib/codec"
	"github.com/bureau-foundation/cobalt/lib/compress"
)

// SystemProfile holds the device attributes a report chose to collect.
// Fields a report did not select are left empty.
type SystemProfile struct {
	AppVersion    string `cbor:"1,keyasint,omitempty"`
	SystemVersion string `cbor:"2,keyasint,omitempty"`
}

// Metadata identifies the report and day an observation belongs to.
// It is comparable so batches can be grouped by it.
type Metadata struct {
	CustomerID    uint32        `cbor:"1,keyasint"`
	ProjectID     uint32        `cbor:"2,keyasint"`
	MetricID      uint32        `cbor:"3,keyasint"`
	ReportID      uint32        `cbor:"4,keyasint"`
	DayIndex      uint32        `cbor:"5,keyasint"`
	SystemProfile SystemProfile `cbor:"6,keyasint"`
}

func (m Metadata) String() string {
	return fmt.Sprintf("%d/%d/%d/%d@%d", m.CustomerID, m.ProjectID, m.MetricID, m.ReportID, m.DayIndex)
}

// NoKeyIndex is the KeyIndex of an empty EncryptedMessage. No real key
// is ever assigned this index.
const NoKeyIndex = math.MaxUint32

// EncryptedMessage is an opaque ciphertext plus the routing data the
// backend needs to pick a key and account for delivery.
type EncryptedMessage struct {
	Ciphertext     []byte `cbor:"1,keyasint"`
	ContributionID []byte `cbor:"2,keyasint,omitempty"`
	KeyIndex       uint32 `cbor:"3,keyasint"`
	Environment    string `cbor:"4,keyasint,omitempty"`
	Scheme         string `cbor:"5,keyasint,omitempty"`
}

// IsEmpty reports whether the message marks a failed encryption. An
// encryption of a zero-length plaintext is not empty.
func (m EncryptedMessage) IsEmpty() bool { return m.KeyIndex == NoKeyIndex }

// ObservationBatch groups the encrypted observations sharing one
// Metadata.
type ObservationBatch struct {
	Metadata              Metadata           `cbor:"1,keyasint"`
	EncryptedObservations []EncryptedMessage `cbor:"2,keyasint"`
}

// Envelope is the unit of envelope encryption and upload.
type Envelope struct {
	ID             []byte             `cbor:"1,keyasint,omitempty"`
	RegistryDigest []byte             `cbor:"2,keyasint,omitempty"`
	Batches        []ObservationBatch `cbor:"3,keyasint"`
}

// ObservationCount returns the number of encrypted observations across
// all batches.
func (e Envelope) ObservationCount() int {
	count := 0
	for _, batch := range e.Batches {
		count += len(batch.EncryptedObservations)
	}
	return count
}

// Marshal returns the deterministic CBOR encoding of an observation.
// Fails if the observation does not carry exactly one variant.
func Marshal(o Observation) ([]byte, error) {
	if o.variantCount() != 1 {
		return nil, fmt.Errorf("observation: %d variants set, want 1", o.variantCount())
	}
	return codec.Marshal(o)
}

// Unmarshal decodes and checks an observation.
func Unmarshal(data []byte) (Observation, error) {
	var o Observation
	if err := codec.Unmarshal(data, &o); err != nil {
		return Observation{}, fmt.Errorf("observation: %w", err)
	}
	if err := checkRandomID(o.RandomID); err != nil {
		return Observation{}, err
	}
	if o.variantCount() != 1 {
		return Observation{}, fmt.Errorf("observation: %d variants set, want 1", o.variantCount())
	}
	return o, nil
}

// EncodeEnvelope returns the compressed frame for env.
func EncodeEnvelope(env Envelope, tag compress.Tag) ([]byte, error) {
	plain, err := codec.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("observation: encoding envelope: %w", err)
	}
	frame, err := compress.Encode(plain, tag)
	if err != nil {
		return nil, fmt.Errorf("observation: compressing envelope: %w", err)
	}
	return frame, nil
}

// DecodeEnvelope reverses EncodeEnvelope.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	plain, err := compress.Decode(frame)
	if err != nil {
		return Envelope{}, fmt.Errorf("observation: decompressing envelope: %w", err)
	}
	var env Envelope
	if err := codec.Unmarshal(plain, &env); err != nil {
		return Envelope{}, fmt.Errorf("observation: decoding envelope: %w", err)
	}
	return env, nil
}
