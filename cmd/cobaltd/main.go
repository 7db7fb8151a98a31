// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Cobaltd is the on-device upload daemon. It owns the aggregation
// database written by instrumented programs (and by `cobalt ingest`),
// and once per configured period turns the pending counts into
// encrypted envelopes and ships them to the collector.
//
// On startup:
//  1. Loads and validates the YAML config (--config or COBALT_CONFIG).
//  2. Loads the metric registry and opens the SQLite store.
//  3. Builds the encrypter, the upload queue and the periodic job.
//  4. Runs one cycle immediately, then one per schedule.period until
//     SIGINT or SIGTERM.
//
// With --once a single cycle runs and its result is the exit status.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/cobalt/lib/clock"
	"github.com/bureau-foundation/cobalt/lib/config"
	"github.com/bureau-foundation/cobalt/lib/periodic"
	"github.com/bureau-foundation/cobalt/lib/version"
)

// shutdownGrace bounds how long shutdown waits for a running cycle.
const shutdownGrace = 30 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath  string
		once        bool
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("cobaltd", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to cobalt.yaml (default: $COBALT_CONFIG)")
	flagSet.BoolVar(&once, "once", false, "run a single upload cycle and exit")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("cobaltd %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log, os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	meterProvider, err := newMeterProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("starting metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	p, err := newPipeline(cfg, logger, meterProvider.Meter("github.com/bureau-foundation/cobalt"))
	if err != nil {
		return err
	}
	defer p.Close()

	logger.Info("cobaltd starting",
		"version", version.Info(),
		"environment", cfg.Environment,
		"enabled", cfg.Enabled,
		"registry_digest", p.registryDigest,
		"public_key", p.keyFingerprint,
		"period", cfg.Schedule.Period.Std(),
	)

	if once {
		return periodic.RunOnce(ctx, p.job)
	}

	scheduler := &periodic.Scheduler{Clock: clock.Real(), Logger: logger}
	if err := scheduler.Run(ctx, p.job, cfg.Schedule.Period.Std()); err != nil {
		return err
	}

	logger.Info("shutting down")
	p.waitForCycle(shutdownGrace)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%w", err)
	}
	return cfg, nil
}

// newLogger picks a text handler for terminals and JSON otherwise,
// unless the config names a format.
func newLogger(cfg config.LogConfig, w io.Writer, terminal bool) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	options := &slog.HandlerOptions{Level: level}

	format := cfg.Format
	if format == "" || format == "auto" {
		format = "json"
		if terminal {
			format = "text"
		}
	}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, options)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, options)), nil
	default:
		return nil, fmt.Errorf("log.format: unknown format %q", cfg.Format)
	}
}
