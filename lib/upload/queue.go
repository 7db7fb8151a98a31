// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/cobalt/lib/clock"
	"github.com/bureau-foundation/cobalt/lib/codec"
	"github.com/bureau-foundation/cobalt/lib/observation"
)

// Backoff for the shipper retry loop: starts at initialBackoff and
// doubles on each consecutive failure of the same batch, capped at
// maxBackoff.
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second

	// drainTimeout bounds the best-effort pass made by Close.
	drainTimeout = 5 * time.Second
)

// Defaults applied by NewQueue to zero Config fields.
const (
	DefaultMaxBufferBytes = 4 << 20
	DefaultMaxBatchBytes  = 512 << 10
	DefaultMaxAttempts    = 5
)

// Config configures a Queue.
type Config struct {
	Transport Transport

	// Clock drives retry backoff. Nil means the real clock.
	Clock clock.Clock

	Logger *slog.Logger

	MaxBufferBytes int
	MaxBatchBytes  int

	// MaxAttempts is the number of Ship calls made for one batch
	// before it is abandoned.
	MaxAttempts int

	// RequestsPerSecond paces Ship calls. Zero means unlimited.
	RequestsPerSecond float64
	Burst             int
}

// Queue is the production Uploader. Close must be called to stop its
// shipper goroutine.
type Queue struct {
	transport     Transport
	clock         clock.Clock
	logger        *slog.Logger
	buffer        *Buffer
	limiter       *rate.Limiter
	maxBatchBytes int
	maxAttempts   int

	flush  chan chan error
	cancel context.CancelFunc
	done   chan struct{}

	shipped atomic.Uint64

	// Owned by the shipper goroutine.
	abandoned       int
	droppedReported uint64
}

// NewQueue starts a Queue shipping to cfg.Transport.
func NewQueue(cfg Config) (*Queue, error) {
	if cfg.Transport == nil {
		return nil, errors.New("upload: Transport is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.MaxBufferBytes <= 0 {
		cfg.MaxBufferBytes = DefaultMaxBufferBytes
	}
	if cfg.MaxBatchBytes <= 0 {
		cfg.MaxBatchBytes = DefaultMaxBatchBytes
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		transport:     cfg.Transport,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
		buffer:        NewBuffer(cfg.MaxBufferBytes),
		limiter:       rate.NewLimiter(limit, cfg.Burst),
		maxBatchBytes: cfg.MaxBatchBytes,
		maxAttempts:   cfg.MaxAttempts,
		flush:         make(chan chan error),
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	go q.run(ctx)
	return q, nil
}

// Upload queues msg. Empty messages are counted as drops.
func (q *Queue) Upload(msg observation.EncryptedMessage) {
	if msg.IsEmpty() {
		q.buffer.CountDrop()
		return
	}
	data, err := codec.Marshal(msg)
	if err != nil {
		q.logger.Error("encoding upload message failed", "error", err)
		q.buffer.CountDrop()
		return
	}
	if err := q.buffer.Push(data); err != nil {
		q.logger.Warn("upload message dropped", "error", err)
	}
}

// UploadDone blocks until the shipper has drained the queue and
// returns ErrIncomplete if any message since the previous UploadDone
// was dropped or abandoned.
func (q *Queue) UploadDone(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case q.flush <- reply:
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shipped returns the number of batches delivered since creation.
func (q *Queue) Shipped() uint64 { return q.shipped.Load() }

// Pending returns the number of queued messages.
func (q *Queue) Pending() int { return q.buffer.Len() }

// Close stops the shipper after one best-effort pass over whatever is
// still queued.
func (q *Queue) Close() error {
	q.cancel()
	<-q.done
	return nil
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-q.buffer.Notify():
			q.drain(ctx)
		case reply := <-q.flush:
			q.drain(ctx)
			reply <- q.settle(ctx)
		case <-ctx.Done():
			q.finalDrain()
			return
		}
	}
}

// settle reports and resets the delivery counters for one UploadDone.
func (q *Queue) settle(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrClosed
	}
	dropped := q.buffer.Dropped()
	newDrops := dropped - q.droppedReported
	q.droppedReported = dropped
	abandoned := q.abandoned
	q.abandoned = 0
	if newDrops > 0 || abandoned > 0 {
		return fmt.Errorf("%w: %d messages dropped, %d batches abandoned", ErrIncomplete, newDrops, abandoned)
	}
	return nil
}

// drain ships batches until the buffer is empty or ctx ends. A batch
// that exhausts MaxAttempts is abandoned and counted.
func (q *Queue) drain(ctx context.Context) {
	for ctx.Err() == nil {
		batch, last := q.buffer.PeekBatch(q.maxBatchBytes)
		if batch == nil {
			return
		}
		payload, err := EncodeRequest(batch)
		if err != nil {
			q.logger.Error("abandoning batch", "messages", len(batch), "error", err)
			q.buffer.Release(last)
			q.abandoned++
			continue
		}
		if err := q.ship(ctx, payload); err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.Error("abandoning batch after retries",
				"messages", len(batch),
				"attempts", q.maxAttempts,
				"error", err,
			)
			q.buffer.Release(last)
			q.abandoned++
			continue
		}
		q.buffer.Release(last)
		q.shipped.Add(1)
	}
}

// ship delivers one payload, retrying with backoff.
func (q *Queue) ship(ctx context.Context, payload []byte) error {
	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		if err := q.limiter.Wait(ctx); err != nil {
			return err
		}
		err := q.transport.Ship(ctx, payload)
		if err == nil {
			return nil
		}
		if attempt >= q.maxAttempts || ctx.Err() != nil {
			return err
		}
		q.logger.Warn("batch ship failed, will retry",
			"error", err,
			"attempt", attempt,
			"backoff", backoff,
			"queued", q.buffer.Len(),
		)
		select {
		case <-q.clock.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// finalDrain makes one pass without retries after shutdown.
func (q *Queue) finalDrain() {
	drainContext, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		batch, last := q.buffer.PeekBatch(q.maxBatchBytes)
		if batch == nil {
			return
		}
		payload, err := EncodeRequest(batch)
		if err == nil {
			err = q.transport.Ship(drainContext, payload)
		}
		if err != nil {
			q.logger.Warn("drain: batch ship failed, abandoning remaining",
				"error", err,
				"remaining", q.buffer.Len(),
			)
			return
		}
		q.buffer.Release(last)
		q.shipped.Add(1)
	}
}
