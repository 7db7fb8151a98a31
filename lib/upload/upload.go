// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/cobalt/lib/codec"
	"github.com/bureau-foundation/cobalt/lib/observation"
)

// Uploader accepts encrypted envelopes for delivery. Upload never
// blocks on the network; UploadDone is the terminal call of a cycle
// and reports whether everything uploaded since the previous
// UploadDone was delivered.
type Uploader interface {
	Upload(msg observation.EncryptedMessage)
	UploadDone(ctx context.Context) error
}

// Transport delivers one encoded batch.
type Transport interface {
	Ship(ctx context.Context, payload []byte) error
}

var (
	// ErrIncomplete is returned by UploadDone when messages were
	// dropped or abandoned since the previous UploadDone.
	ErrIncomplete = errors.New("upload: not every message was delivered")

	// ErrClosed is returned by UploadDone after Close.
	ErrClosed = errors.New("upload: uploader closed")

	// ErrNoEndpoint is returned by Discard's UploadDone when messages
	// were dropped for want of a collector.
	ErrNoEndpoint = errors.New("upload: no endpoint configured")
)

// Request is the body of one upload: a batch of encrypted envelopes.
type Request struct {
	Messages []codec.RawMessage `cbor:"1,keyasint"`
}

// request is Request with the messages decoded, for receivers.
type request struct {
	Messages []observation.EncryptedMessage `cbor:"1,keyasint"`
}

// EncodeRequest builds an upload body from individually encoded
// messages.
func EncodeRequest(messages [][]byte) ([]byte, error) {
	raw := make([]codec.RawMessage, len(messages))
	for i, message := range messages {
		raw[i] = codec.RawMessage(message)
	}
	payload, err := codec.Marshal(Request{Messages: raw})
	if err != nil {
		return nil, fmt.Errorf("upload: encoding request: %w", err)
	}
	return payload, nil
}

// DecodeRequest parses an upload body as received by the backend.
func DecodeRequest(payload []byte) ([]observation.EncryptedMessage, error) {
	var decoded request
	if err := codec.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("upload: decoding request: %w", err)
	}
	return decoded.Messages, nil
}
