// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/bureau-foundation/cobalt/lib/aggregate"
	"github.com/bureau-foundation/cobalt/lib/clock"
	"github.com/bureau-foundation/cobalt/lib/compress"
	"github.com/bureau-foundation/cobalt/lib/config"
	"github.com/bureau-foundation/cobalt/lib/encrypt"
	"github.com/bureau-foundation/cobalt/lib/observation"
	"github.com/bureau-foundation/cobalt/lib/oplog"
	"github.com/bureau-foundation/cobalt/lib/periodic"
	"github.com/bureau-foundation/cobalt/lib/registry"
	"github.com/bureau-foundation/cobalt/lib/sqlitepool"
	"github.com/bureau-foundation/cobalt/lib/upload"
	"github.com/bureau-foundation/cobalt/lib/version"
)

// pipeline is the daemon's wired object graph.
type pipeline struct {
	job   periodic.Job
	cycle *periodic.Cycle

	registryDigest string
	keyFingerprint string

	logger  *slog.Logger
	closers []func() error
}

// newPipeline builds every component named by cfg. On error, whatever
// was opened is closed again.
func newPipeline(cfg *config.Config, logger *slog.Logger, meter metric.Meter) (_ *pipeline, err error) {
	p := &pipeline{logger: logger}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	reg, err := registry.Load(cfg.Registry)
	if err != nil {
		return nil, err
	}
	p.registryDigest = hex.EncodeToString(reg.Digest())

	if !cfg.Enabled {
		p.job = periodic.NoOp(logger)
		return p, nil
	}

	stage, err := cfg.Stage()
	if err != nil {
		return nil, err
	}
	ignored, err := cfg.IgnoredReports()
	if err != nil {
		return nil, err
	}

	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	store, pool, err := aggregate.OpenSQLiteStore(sqlitepool.Config{
		Path:   cfg.DatabasePath(),
		Schema: aggregate.Schema,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening aggregation store: %w", err)
	}
	p.closers = append(p.closers, pool.Close)

	encrypter, err := newEncrypter(cfg, logger)
	if err != nil {
		return nil, err
	}
	p.keyFingerprint = encrypt.Fingerprint(cfg.Encryption.PublicKey)

	uploader, err := newUploader(cfg, logger)
	if err != nil {
		return nil, err
	}
	if closer, ok := uploader.(io.Closer); ok {
		p.closers = append(p.closers, closer.Close)
	}

	otelLogger, err := oplog.NewOTel(meter)
	if err != nil {
		return nil, err
	}

	cycle, err := periodic.New(periodic.Config{
		Store:           store,
		Registry:        reg,
		Encrypter:       encrypter,
		Uploader:        uploader,
		OperationLogger: oplog.Multi{oplog.NewSlog(logger), otelLogger},
		Clock:           clock.Real(),
		Logger:          logger,
		SystemProfile: observation.SystemProfile{
			AppVersion:    cfg.SystemProfile.AppVersion,
			SystemVersion: cfg.SystemProfile.SystemVersion,
		},
		EnvelopeMaxBytes: cfg.Upload.EnvelopeMaxBytes,
		ReportsToIgnore:  ignored,
		Enabled:          cfg.Enabled,
		MinChaffLambda:   cfg.Privacy.MinChaffLambda,
		ReleaseStage:     stage,
		Deadline:         cfg.Schedule.Deadline.Std(),
	})
	if err != nil {
		return nil, err
	}
	p.cycle = cycle
	p.job = cycle
	return p, nil
}

func newEncrypter(cfg *config.Config, logger *slog.Logger) (encrypt.Encrypter, error) {
	scheme, err := encrypt.ParseScheme(cfg.Encryption.Scheme)
	if err != nil {
		return nil, err
	}
	compression, err := compress.ParseTag(cfg.Encryption.Compression)
	if err != nil {
		return nil, err
	}
	if scheme == encrypt.SchemeNone {
		logger.Warn("observations are not encrypted", "environment", cfg.Environment)
	}
	return encrypt.New(encrypt.Config{
		Scheme:      scheme,
		PublicKey:   cfg.Encryption.PublicKey,
		KeyIndex:    cfg.Encryption.KeyIndex,
		Environment: string(cfg.Environment),
		Compression: compression,
		Logger:      logger,
	})
}

// newUploader returns an HTTP queue, or a Discard uploader when no
// endpoint is configured. With Discard every cycle that has data
// fails, so counts stay in the store until an endpoint is set.
func newUploader(cfg *config.Config, logger *slog.Logger) (upload.Uploader, error) {
	if cfg.Upload.Endpoint == "" {
		logger.Warn("no upload endpoint configured, counts stay in the store until one is set")
		return &upload.Discard{}, nil
	}

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	for name, value := range cfg.Upload.Headers {
		header.Set(name, value)
	}
	queue, err := upload.NewQueue(upload.Config{
		Transport: &upload.HTTPTransport{
			URL:    cfg.Upload.Endpoint,
			Client: &http.Client{Timeout: cfg.Upload.Timeout.Std()},
			Header: header,
		},
		Clock:             clock.Real(),
		Logger:            logger,
		MaxBufferBytes:    cfg.Upload.MaxBufferBytes,
		MaxBatchBytes:     cfg.Upload.MaxBatchBytes,
		MaxAttempts:       cfg.Upload.MaxAttempts,
		RequestsPerSecond: cfg.Upload.RequestsPerSec,
		Burst:             cfg.Upload.Burst,
	})
	if err != nil {
		return nil, err
	}
	return queue, nil
}

// waitForCycle blocks until a running cycle finishes or grace passes.
func (p *pipeline) waitForCycle(grace time.Duration) {
	if p.cycle == nil {
		return
	}
	completion := p.cycle.InFlight()
	if completion == nil {
		return
	}
	p.logger.Info("waiting for running upload cycle", "grace", grace)
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-completion.Done():
	case <-timer.C:
		p.logger.Warn("upload cycle still running at shutdown; its counts will be retried")
	}
}

// Close releases everything newPipeline opened, in reverse order.
func (p *pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}
