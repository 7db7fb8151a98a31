// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/cobalt/cmd/cobalt/cli"
	"github.com/bureau-foundation/cobalt/lib/codec"
)

func decodeCommand(streams Streams) *cli.Command {
	return &cli.Command{
		Name:    "decode",
		Summary: "Print a CBOR file in diagnostic notation",
		Description: `Print any CBOR value (an upload request, a plaintext envelope, an
observation) in RFC 8949 diagnostic notation. Nothing is decrypted.`,
		Usage: "cobalt decode <file|->",
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if err := requireArgs(args, 1, "cobalt decode <file|->"); err != nil {
				return err
			}
			data, err := readInput(streams, args[0])
			if err != nil {
				return err
			}
			notation, err := codec.Diagnose(data)
			if err != nil {
				return fmt.Errorf("decoding %s: %w", args[0], err)
			}
			fmt.Fprintln(streams.Out, notation)
			return nil
		},
	}
}
