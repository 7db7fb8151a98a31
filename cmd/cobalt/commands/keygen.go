// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/cobalt/cmd/cobalt/cli"
	"github.com/bureau-foundation/cobalt/lib/encrypt"
	"github.com/bureau-foundation/cobalt/lib/secret"
)

func keygenCommand(streams Streams) *cli.Command {
	var (
		scheme  string
		outPath string
	)
	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate a collector keypair",
		Description: `Generate a keypair for the collector.

The private key is written to --out with mode 0600 and never printed
to a terminal. The public key and its fingerprint are printed; put the
public key in encryption.public_key of every device config.`,
		Usage: "cobalt keygen [flags]",
		Examples: []cli.Example{
			{
				Description: "Create an HPKE keypair for the production collector",
				Command:     "cobalt keygen --scheme hpke --out /etc/cobalt/collector.key",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flagSet.StringVar(&scheme, "scheme", string(encrypt.SchemeHPKE), "key scheme: hpke or age")
			flagSet.StringVar(&outPath, "out", "", "private key file to create, or - for standard output (required)")
			return flagSet
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if err := requireArgs(args, 0, "cobalt keygen --out <file>"); err != nil {
				return err
			}
			if outPath == "" {
				return errors.New("--out is required")
			}
			parsed, err := encrypt.ParseScheme(scheme)
			if err != nil {
				return err
			}
			if outPath == "-" && isTerminal(streams.Out) {
				return errors.New("refusing to write a private key to a terminal; redirect standard output or use --out <file>")
			}

			keypair, err := encrypt.GenerateKeypair(parsed)
			if err != nil {
				return err
			}
			defer keypair.Close()

			if outPath == "-" {
				if _, err := fmt.Fprintf(streams.Out, "%s\n", keypair.PrivateKey.Bytes()); err != nil {
					return err
				}
			} else {
				if err := secret.WriteKeyFile(outPath, keypair.PrivateKey); err != nil {
					return err
				}
				fmt.Fprintf(streams.Out, "scheme:      %s\n", keypair.Scheme)
				fmt.Fprintf(streams.Out, "public key:  %s\n", keypair.PublicKey)
				fmt.Fprintf(streams.Out, "fingerprint: %s\n", encrypt.Fingerprint(keypair.PublicKey))
			}

			logger.Info("generated collector keypair",
				"scheme", keypair.Scheme,
				"fingerprint", encrypt.Fingerprint(keypair.PublicKey),
				"public_key", keypair.PublicKey,
			)
			return nil
		},
	}
}

func isTerminal(w any) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}
