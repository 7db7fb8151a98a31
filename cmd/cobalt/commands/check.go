// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cobalt/cmd/cobalt/cli"
	"github.com/bureau-foundation/cobalt/lib/encrypt"
	"github.com/bureau-foundation/cobalt/lib/registry"
)

func checkCommand(streams Streams) *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "check",
		Summary: "Validate a daemon config and its registry",
		Usage:   "cobalt check [--config <file>]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("check", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to cobalt.yaml (default: $COBALT_CONFIG)")
			return flagSet
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if err := requireArgs(args, 0, "cobalt check [--config <file>]"); err != nil {
				return err
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			reg, err := registry.Load(cfg.Registry)
			if err != nil {
				return err
			}

			fmt.Fprintf(streams.Out, "environment: %s\n", cfg.Environment)
			fmt.Fprintf(streams.Out, "enabled:     %t\n", cfg.Enabled)
			fmt.Fprintf(streams.Out, "scheme:      %s\n", cfg.Encryption.Scheme)
			if cfg.Encryption.PublicKey != "" {
				fmt.Fprintf(streams.Out, "public key:  %s\n", encrypt.Fingerprint(cfg.Encryption.PublicKey))
			}
			fmt.Fprintf(streams.Out, "registry:    %s (%d reports)\n", hex.EncodeToString(reg.Digest()), len(reg.ReportKeys()))
			fmt.Fprintf(streams.Out, "database:    %s\n", cfg.DatabasePath())
			return nil
		},
	}
}

func registryCommand(streams Streams) *cli.Command {
	return &cli.Command{
		Name:    "registry",
		Summary: "Validate a registry file and list its reports",
		Description: `Parse and validate a JSONC metric registry, then print its digest and
one line per report. The digest is the one recorded in every envelope.`,
		Usage: "cobalt registry <file>",
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if err := requireArgs(args, 1, "cobalt registry <file>"); err != nil {
				return err
			}
			reg, err := registry.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(streams.Out, "digest %s\n", hex.EncodeToString(reg.Digest()))
			for _, entry := range reg.Entries() {
				fmt.Fprintf(streams.Out, "%s %s %s stage=%s\n",
					entry.Key, entry.Report.Type, entry.Report.PrivacyMechanism, entry.Report.MaxReleaseStage)
			}
			return nil
		},
	}
}
