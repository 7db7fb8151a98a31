// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/pflag"
	"github.com/valyala/fastjson"

	"github.com/bureau-foundation/cobalt/cmd/cobalt/cli"
	"github.com/bureau-foundation/cobalt/lib/aggregate"
	"github.com/bureau-foundation/cobalt/lib/oplog"
	"github.com/bureau-foundation/cobalt/lib/recorder"
	"github.com/bureau-foundation/cobalt/lib/registry"
	"github.com/bureau-foundation/cobalt/lib/sqlitepool"
)

// maxEventLine bounds one JSON line.
const maxEventLine = 1 << 20

func ingestCommand(streams Streams) *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "ingest",
		Summary: "Record JSON-lines events into the aggregation store",
		Description: `Read one event per line and record it into the daemon's aggregation
store, exactly as an instrumented program would. Each line is a JSON
object:

  {"metric": 1, "count": 3, "event_codes": [1, 5]}
  {"metric": 2, "string": "en-US", "event_codes": [0]}

"count" defaults to 1. A line with "string" records a string value
for a STRING metric. Invalid lines are reported and skipped; the
command then exits with status 1.`,
		Usage: "cobalt ingest [--config <file>] <events-file|->",
		Examples: []cli.Example{
			{
				Description: "Replay events captured during a test run",
				Command:     "cobalt ingest --config /etc/cobalt/cobalt.yaml events.jsonl",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ingest", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to cobalt.yaml (default: $COBALT_CONFIG)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if err := requireArgs(args, 1, "cobalt ingest [--config <file>] <events-file|->"); err != nil {
				return err
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			stage, err := cfg.Stage()
			if err != nil {
				return err
			}
			reg, err := registry.Load(cfg.Registry)
			if err != nil {
				return err
			}
			if err := cfg.EnsurePaths(); err != nil {
				return err
			}
			store, pool, err := aggregate.OpenSQLiteStore(sqlitepool.Config{
				Path:   cfg.DatabasePath(),
				Schema: aggregate.Schema,
				Logger: logger,
			})
			if err != nil {
				return err
			}
			defer pool.Close()

			rec, err := recorder.New(recorder.Config{
				CustomerID:      cfg.CustomerID,
				ProjectID:       cfg.ProjectID,
				Registry:        reg,
				Store:           store,
				OperationLogger: oplog.NewSlog(logger),
				Logger:          logger,
				ReleaseStage:    stage,
				Enabled:         cfg.Enabled,
			})
			if err != nil {
				return err
			}

			input, err := openInput(streams, args[0])
			if err != nil {
				return err
			}
			defer input.Close()

			recorded, failures, err := ingest(ctx, rec, input, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(streams.Out, "recorded %d events, %d rejected\n", recorded, failures)
			if failures > 0 {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

// ingest records every line of input. Only read errors are returned;
// bad lines are logged and counted.
func ingest(ctx context.Context, rec *recorder.Recorder, input io.Reader, logger *slog.Logger) (recorded, failures int, err error) {
	var parser fastjson.Parser
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 64<<10), maxEventLine)

	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		if err := recordEvent(ctx, rec, &parser, text); err != nil {
			failures++
			logger.Warn("rejected event", "line", line, "error", err)
			continue
		}
		recorded++
	}
	if err := scanner.Err(); err != nil {
		return recorded, failures, fmt.Errorf("reading events: %w", err)
	}
	return recorded, failures, nil
}

var errEventShape = errors.New("event must be an object with a positive integer \"metric\"")

func recordEvent(ctx context.Context, rec *recorder.Recorder, parser *fastjson.Parser, text []byte) error {
	value, err := parser.ParseBytes(text)
	if err != nil {
		return err
	}
	if value.Type() != fastjson.TypeObject {
		return errEventShape
	}
	metricValue := value.Get("metric")
	if metricValue == nil {
		return errEventShape
	}
	metricID, err := metricValue.Uint()
	if err != nil || metricID == 0 || metricID > 1<<32-1 {
		return errEventShape
	}

	var eventCodes []int
	if codes := value.Get("event_codes"); codes != nil {
		array, err := codes.Array()
		if err != nil {
			return fmt.Errorf("event_codes: %w", err)
		}
		for _, code := range array {
			eventCode, err := code.Int()
			if err != nil {
				return fmt.Errorf("event_codes: %w", err)
			}
			eventCodes = append(eventCodes, eventCode)
		}
	}

	if stringValue := value.Get("string"); stringValue != nil {
		text, err := stringValue.StringBytes()
		if err != nil {
			return fmt.Errorf("string: %w", err)
		}
		return rec.LogString(ctx, uint32(metricID), string(text), eventCodes...)
	}

	count := int64(1)
	if countValue := value.Get("count"); countValue != nil {
		if count, err = countValue.Int64(); err != nil {
			return fmt.Errorf("count: %w", err)
		}
	}
	return rec.LogOccurrence(ctx, uint32(metricID), count, eventCodes...)
}
