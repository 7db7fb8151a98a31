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
	"github.com/bureau-foundation/cobalt/lib/codec"
	"github.com/bureau-foundation/cobalt/lib/encrypt"
	"github.com/bureau-foundation/cobalt/lib/observation"
	"github.com/bureau-foundation/cobalt/lib/secret"
	"github.com/bureau-foundation/cobalt/lib/upload"
)

func decryptCommand(streams Streams) *cli.Command {
	var (
		scheme  string
		keyFile string
	)
	return &cli.Command{
		Name:    "decrypt",
		Summary: "Open an upload request with the collector key",
		Description: `Decrypt every envelope in an upload request body and print the
observations it carries in CBOR diagnostic notation.

Messages that fail to open are reported and skipped; the command then
exits with status 1.`,
		Usage: "cobalt decrypt [flags] <request-file|->",
		Examples: []cli.Example{
			{
				Description: "Inspect a captured request",
				Command:     "cobalt decrypt --key-file /etc/cobalt/collector.key request.cbor",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("decrypt", pflag.ContinueOnError)
			flagSet.StringVar(&scheme, "scheme", string(encrypt.SchemeHPKE), "encryption scheme: hpke, age or none")
			flagSet.StringVar(&keyFile, "key-file", "", "collector private key (not needed for none)")
			return flagSet
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if err := requireArgs(args, 1, "cobalt decrypt [flags] <request-file|->"); err != nil {
				return err
			}
			parsed, err := encrypt.ParseScheme(scheme)
			if err != nil {
				return err
			}
			decrypter := &encrypt.Decrypter{Scheme: parsed}
			if parsed != encrypt.SchemeNone {
				if keyFile == "" {
					return fmt.Errorf("--key-file is required for scheme %s", parsed)
				}
				key, err := secret.ReadKeyFile(keyFile)
				if err != nil {
					return err
				}
				defer key.Close()
				decrypter.PrivateKey = key
			}

			payload, err := readInput(streams, args[0])
			if err != nil {
				return err
			}
			messages, err := upload.DecodeRequest(payload)
			if err != nil {
				return err
			}

			failures := 0
			for i, message := range messages {
				envelope, err := decrypter.OpenEnvelope(message)
				if err != nil {
					failures++
					logger.Error("envelope failed to open", "index", i, "key_index", message.KeyIndex, "error", err)
					continue
				}
				failures += printEnvelope(streams, decrypter, envelope, message, logger)
			}

			if failures > 0 {
				logger.Warn("some messages could not be opened", "failures", failures)
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

// printEnvelope writes one envelope and its observations, returning
// the number of observations that failed to open.
func printEnvelope(streams Streams, decrypter *encrypt.Decrypter, envelope observation.Envelope, message observation.EncryptedMessage, logger *slog.Logger) int {
	fmt.Fprintf(streams.Out, "envelope %s environment=%s registry=%s observations=%d\n",
		hex.EncodeToString(envelope.ID), message.Environment,
		hex.EncodeToString(envelope.RegistryDigest), envelope.ObservationCount())

	failures := 0
	for _, batch := range envelope.Batches {
		for _, encrypted := range batch.EncryptedObservations {
			obs, err := decrypter.OpenObservation(encrypted, batch.Metadata)
			if err != nil {
				failures++
				logger.Error("observation failed to open", "metadata", batch.Metadata.String(), "error", err)
				continue
			}
			fmt.Fprintf(streams.Out, "  %s %s %s\n", batch.Metadata, obs.Kind(), diagnose(obs))
		}
	}
	return failures
}

func diagnose(obs observation.Observation) string {
	encoded, err := observation.Marshal(obs)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	notation, err := codec.Diagnose(encoded)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return notation
}
