// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package periodic

import (
	"context"
	"log/slog"
)

// NoOp returns a Job for when the pipeline is switched off. Every
// trigger completes at once and is logged.
func NoOp(logger *slog.Logger) Job {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return noop{logger: logger}
}

type noop struct {
	logger *slog.Logger
}

func (n noop) GenerateAggregatedObservations(ctx context.Context) *Completion {
	go n.logger.InfoContext(context.WithoutCancel(ctx), "upload cycle requested while the pipeline is disabled")
	return finished(Result{State: Completed})
}
