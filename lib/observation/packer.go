// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observation

import (
	"github.com/bureau-foundation/cobalt/lib/codec"
)

// perMessageOverhead approximates the CBOR framing around an encrypted
// observation's ciphertext and contribution id.
const perMessageOverhead = 24

// Packer accumulates encrypted observations into Envelopes, starting a
// new envelope whenever adding a message would push the current one
// past MaxBytes. A message larger than MaxBytes on its own still ships,
// alone in its own envelope.
//
// Batches keep the order in which their metadata was first seen, and
// messages keep the order in which they were added.
type Packer struct {
	maxBytes int

	sealed  []Envelope
	current Envelope
	size    int
	batches map[Metadata]int
}

// NewPacker returns a Packer producing envelopes of at most maxBytes
// estimated encoded size. maxBytes <= 0 means unlimited.
func NewPacker(maxBytes int) *Packer {
	return &Packer{maxBytes: maxBytes, batches: make(map[Metadata]int)}
}

// Add appends msg under meta.
func (p *Packer) Add(meta Metadata, msg EncryptedMessage) {
	cost := len(msg.Ciphertext) + len(msg.ContributionID) + perMessageOverhead
	_, hasBatch := p.batches[meta]
	total := cost
	if !hasBatch {
		total += metadataSize(meta)
	}

	if p.maxBytes > 0 && p.size > 0 && p.size+total > p.maxBytes {
		p.seal()
		hasBatch = false
		total = cost + metadataSize(meta)
	}

	if !hasBatch {
		p.batches[meta] = len(p.current.Batches)
		p.current.Batches = append(p.current.Batches, ObservationBatch{Metadata: meta})
	}
	index := p.batches[meta]
	p.current.Batches[index].EncryptedObservations = append(p.current.Batches[index].EncryptedObservations, msg)
	p.size += total
}

func (p *Packer) seal() {
	if len(p.current.Batches) == 0 {
		return
	}
	p.sealed = append(p.sealed, p.current)
	p.current = Envelope{}
	p.size = 0
	clear(p.batches)
}

// Envelopes seals the envelope in progress and returns every envelope
// built so far. The Packer is empty afterwards.
func (p *Packer) Envelopes() []Envelope {
	p.seal()
	envelopes := p.sealed
	p.sealed = nil
	return envelopes
}

func metadataSize(meta Metadata) int {
	encoded, err := codec.Marshal(meta)
	if err != nil {
		return perMessageOverhead
	}
	return len(encoded) + perMessageOverhead
}
