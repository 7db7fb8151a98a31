// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the cobalt CLI command tree.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bureau-foundation/cobalt/cmd/cobalt/cli"
	"github.com/bureau-foundation/cobalt/lib/config"
	"github.com/bureau-foundation/cobalt/lib/version"
)

// Streams are the command tree's standard input and output.
type Streams struct {
	In  io.Reader
	Out io.Writer
}

// Root builds and returns the complete cobalt CLI command tree.
func Root(streams Streams) *cli.Command {
	return &cli.Command{
		Name: "cobalt",
		Description: `Cobalt: privacy-preserving telemetry pipeline.

Operator tool for the on-device collection daemon: manage collector
keys, inspect upload requests, check configuration, and feed events
into the local aggregation store.`,
		Subcommands: []*cli.Command{
			keygenCommand(streams),
			decryptCommand(streams),
			decodeCommand(streams),
			ingestCommand(streams),
			checkCommand(streams),
			registryCommand(streams),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, _ []string, _ *slog.Logger) error {
					fmt.Fprintf(streams.Out, "cobalt %s\n", version.Full())
					return nil
				},
			},
		},
	}
}

// readInput reads the named file, or the command's input for "-".
func readInput(streams Streams, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(streams.In)
	}
	return os.ReadFile(name)
}

// openInput opens the named file, or the command's input for "-".
func openInput(streams Streams, name string) (io.ReadCloser, error) {
	if name == "-" {
		return io.NopCloser(streams.In), nil
	}
	return os.Open(name)
}

// loadConfig loads path, or $COBALT_CONFIG when path is empty, and
// validates it.
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

func requireArgs(args []string, count int, usage string) error {
	if len(args) != count {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}
