// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package upload moves encrypted envelopes off the device.
//
// [Queue] is the production [Uploader]. Upload is non-blocking: each
// message is CBOR-encoded into a size-bounded [Buffer] that drops its
// oldest entries under pressure. A single shipper goroutine drains the
// buffer in batches of at most MaxBatchBytes, hands each batch to a
// [Transport], and retries failures with exponential backoff on the
// injected clock. UploadDone asks the shipper to drain everything that
// is queued and reports whether every message since the previous
// UploadDone reached the transport.
//
// [HTTPTransport] posts batches as application/cbor. [NoOp] records
// messages in memory for tests.
package upload
