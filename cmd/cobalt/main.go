// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Cobalt is the operator CLI for the telemetry pipeline: collector key
// generation, upload request inspection, config checks and event
// ingestion into the local aggregation store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/cobalt/cmd/cobalt/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output return an ExitError
		// with the desired exit code. Don't print a redundant "error:"
		// line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	root := commands.Root(commands.Streams{In: os.Stdin, Out: os.Stdout})
	return root.Execute(ctx, os.Args[1:])
}
