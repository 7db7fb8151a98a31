// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"fmt"
	"sync"
)

// Buffer is a size-bounded FIFO of CBOR-encoded messages. When a Push
// would exceed the byte limit, the oldest entries are dropped until
// the new entry fits; the device loses old telemetry rather than
// exhausting memory while the backend is unreachable.
//
// Entries carry a sequence number so the shipper can release exactly
// the batch it shipped even if Push evicted entries in the meantime.
//
// Thread-safe: all methods may be called concurrently.
type Buffer struct {
	mu        sync.Mutex
	entries   []bufferEntry
	totalSize int
	maxSize   int
	nextSeq   uint64
	dropped   uint64
	notify    chan struct{}
}

type bufferEntry struct {
	data []byte
	seq  uint64
}

// NewBuffer creates a Buffer holding at most maxSize bytes. The
// maxSize must be positive.
func NewBuffer(maxSize int) *Buffer {
	if maxSize <= 0 {
		panic(fmt.Sprintf("upload: buffer maxSize must be positive, got %d", maxSize))
	}
	return &Buffer{
		maxSize: maxSize,
		notify:  make(chan struct{}, 1),
	}
}

// Push appends an encoded message. An entry larger than the whole
// buffer is refused and counted as dropped.
func (b *Buffer) Push(data []byte) error {
	size := len(data)
	if size == 0 {
		return fmt.Errorf("upload: refusing to push empty entry")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if size > b.maxSize {
		b.dropped++
		return fmt.Errorf("upload: entry size %d exceeds buffer size %d", size, b.maxSize)
	}
	for b.totalSize+size > b.maxSize && len(b.entries) > 0 {
		b.evictLocked()
		b.dropped++
	}

	b.nextSeq++
	b.entries = append(b.entries, bufferEntry{data: data, seq: b.nextSeq})
	b.totalSize += size

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// CountDrop records a message that never made it into the buffer.
func (b *Buffer) CountDrop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropped++
}

// PeekBatch returns the oldest entries whose combined size fits in
// maxBytes, always at least one entry when the buffer is non-empty,
// and the sequence number of the last entry returned. Returns nil when
// the buffer is empty.
func (b *Buffer) PeekBatch(maxBytes int) ([][]byte, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var batch [][]byte
	var last uint64
	size := 0
	for _, entry := range b.entries {
		if len(batch) > 0 && size+len(entry.data) > maxBytes {
			break
		}
		batch = append(batch, entry.data)
		size += len(entry.data)
		last = entry.seq
	}
	return batch, last
}

// Release removes every entry with a sequence number up to and
// including through.
func (b *Buffer) Release(through uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.entries) > 0 && b.entries[0].seq <= through {
		b.evictLocked()
	}
}

func (b *Buffer) evictLocked() {
	b.totalSize -= len(b.entries[0].data)
	b.entries[0] = bufferEntry{}
	b.entries = b.entries[1:]
}

// Len returns the number of queued entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// SizeBytes returns the total size of queued entries.
func (b *Buffer) SizeBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalSize
}

// Dropped returns the number of entries lost to overflow since
// creation.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Notify receives a signal, coalesced, after each Push.
func (b *Buffer) Notify() <-chan struct{} {
	return b.notify
}
