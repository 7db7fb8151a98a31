// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// ContentType is the media type of upload bodies.
const ContentType = "application/cbor"

// HTTPTransport posts each batch to URL. Any non-2xx status is a
// failure.
type HTTPTransport struct {
	URL    string
	Client *http.Client

	// Header is added to every request, typically for an API key.
	Header http.Header
}

func (t *HTTPTransport) Ship(ctx context.Context, payload []byte) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("upload: building request: %w", err)
	}
	for name, values := range t.Header {
		for _, value := range values {
			request.Header.Add(name, value)
		}
	}
	request.Header.Set("Content-Type", ContentType)

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("upload: posting to %s: %w", t.URL, err)
	}
	defer response.Body.Close()
	detail, _ := io.ReadAll(io.LimitReader(response.Body, 512))

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("upload: %s returned %s: %s", t.URL, response.Status, bytes.TrimSpace(detail))
	}
	return nil
}
