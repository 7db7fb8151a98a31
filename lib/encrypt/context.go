// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package encrypt

import (
	"encoding/binary"
	"fmt"

	"github.com/bureau-foundation/cobalt/lib/codec"
	"github.com/bureau-foundation/cobalt/lib/observation"
)

const (
	kindObservation = "observation"
	kindEnvelope    = "envelope"
)

// info builds the HPKE info string:
// "cobalt" 0x00 environment 0x00 kind 0x00 keyIndex(4, big-endian).
func info(environment, kind string, keyIndex uint32) []byte {
	buffer := make([]byte, 0, len("cobalt")+len(environment)+len(kind)+7)
	buffer = append(buffer, "cobalt"...)
	buffer = append(buffer, 0)
	buffer = append(buffer, environment...)
	buffer = append(buffer, 0)
	buffer = append(buffer, kind...)
	buffer = append(buffer, 0)
	return binary.BigEndian.AppendUint32(buffer, keyIndex)
}

type observationAAD struct {
	Metadata       observation.Metadata `cbor:"1,keyasint"`
	ContributionID []byte               `cbor:"2,keyasint"`
}

// observationAssociatedData is the authenticated data for one observation.
func observationAssociatedData(meta observation.Metadata, contributionID []byte) ([]byte, error) {
	if len(contributionID) == 0 {
		// Absent and empty ids travel identically on the wire.
		contributionID = nil
	}
	aad, err := codec.Marshal(observationAAD{Metadata: meta, ContributionID: contributionID})
	if err != nil {
		return nil, fmt.Errorf("encrypt: encoding associated data: %w", err)
	}
	return aad, nil
}

// sealedContext concatenates info and aad with a length prefix, for
// schemes that take a single context string.
func sealedContext(info, aad []byte) []byte {
	buffer := binary.BigEndian.AppendUint32(nil, uint32(len(info)))
	buffer = append(buffer, info...)
	return append(buffer, aad...)
}
