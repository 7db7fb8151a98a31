// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package periodic

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/bureau-foundation/cobalt/lib/aggregate"
	"github.com/bureau-foundation/cobalt/lib/observation"
	"github.com/bureau-foundation/cobalt/lib/securerandom"
)

// sealed is the output of the Encrypting step.
type sealed struct {
	messages  []observation.EncryptedMessage
	envelopes int
	dropped   int

	// ack is applied only after the uploader confirms delivery.
	ack aggregate.Ack
}

// encrypt seals every observation, packs the results into envelopes
// and seals each envelope. A report with any failed encryption keeps
// its last sent day so the failed counts are retried.
func (c *Cycle) encrypt(g *generated, logger *slog.Logger) *sealed {
	out := &sealed{}
	failed := make(map[aggregate.ReportKey]bool)

	packer := observation.NewPacker(c.config.EnvelopeMaxBytes)
	var packed []*pendingObservation
	for i := range g.observations {
		pending := &g.observations[i]
		message := c.config.Encrypter.EncryptObservation(pending.metadata, pending.observation, pending.contributionID)
		if message.IsEmpty() {
			out.dropped++
			failed[pending.report] = true
			logger.Warn("dropping observation that failed to encrypt",
				"metadata", pending.metadata.String(),
				"kind", pending.observation.Kind(),
			)
			continue
		}
		packer.Add(pending.metadata, message)
		packed = append(packed, pending)
	}

	acknowledged := append([]aggregate.Count(nil), g.consumed...)
	envelopes := packer.Envelopes()
	out.envelopes = len(envelopes)

	// The packer fills envelopes in order, so each envelope holds the
	// next ObservationCount packed observations.
	offset := 0
	for _, envelope := range envelopes {
		members := packed[offset : offset+envelope.ObservationCount()]
		offset += len(members)

		id := c.newUUID()
		envelope.ID = id[:]
		envelope.RegistryDigest = c.config.Registry.Digest()
		message := c.config.Encrypter.EncryptEnvelope(envelope)
		if message.IsEmpty() {
			out.dropped++
			for _, member := range members {
				failed[member.report] = true
			}
			logger.Warn("dropping envelope that failed to encrypt",
				"envelope_id", id.String(),
				"observations", len(members),
			)
			continue
		}
		out.messages = append(out.messages, message)
		for _, member := range members {
			acknowledged = append(acknowledged, member.counts...)
		}
	}

	sentThrough := make(map[aggregate.ReportKey]uint32, len(g.sentThrough))
	for report, day := range g.sentThrough {
		if !failed[report] {
			sentThrough[report] = day
		}
	}
	out.ack = aggregate.Ack{Counts: acknowledged, SentThrough: sentThrough}
	return out
}

func (c *Cycle) newUUID() uuid.UUID {
	id, err := uuid.NewRandomFromReader(securerandom.Reader{Source: c.config.Source})
	if err != nil {
		return uuid.New()
	}
	return id
}
