// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package periodic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/cobalt/lib/clock"
)

// Scheduler triggers a Job on a fixed period.
type Scheduler struct {
	Clock  clock.Clock
	Logger *slog.Logger
}

// Run triggers job once immediately and then every period until ctx
// is done, waiting for each cycle before taking the next tick. Ticks
// that arrive while a cycle runs are dropped by the ticker. Run
// returns nil when ctx is done.
func (s *Scheduler) Run(ctx context.Context, job Job, period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("periodic: schedule period must be positive, got %s", period)
	}
	clk := s.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ticker := clk.NewTicker(period)
	defer ticker.Stop()

	for {
		if err := RunOnce(ctx, job); err != nil && ctx.Err() == nil {
			logger.Warn("scheduled upload cycle failed, retrying next period",
				"error", err, "period", period)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

// RunOnce triggers job and waits for the cycle. If ctx ends first the
// cycle keeps running and ctx's error is returned.
func RunOnce(ctx context.Context, job Job) error {
	_, err := job.GenerateAggregatedObservations(ctx).Wait(ctx)
	return err
}
