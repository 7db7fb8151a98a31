// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/bureau-foundation/cobalt/lib/config"
	"github.com/bureau-foundation/cobalt/lib/version"
)

// newMeterProvider returns the provider behind the operation counters.
// Without an OTLP endpoint the provider has no reader and the counters
// stay in process.
func newMeterProvider(ctx context.Context, cfg *config.Config) (*sdkmetric.MeterProvider, error) {
	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName("cobaltd"),
		semconv.ServiceVersion(version.Version),
		semconv.DeploymentEnvironment(string(cfg.Environment)),
	)
	options := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if cfg.Metrics.OTLPEndpoint != "" {
		exporterOptions := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(cfg.Metrics.OTLPEndpoint),
		}
		if cfg.Metrics.Insecure {
			exporterOptions = append(exporterOptions, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, exporterOptions...)
		if err != nil {
			return nil, fmt.Errorf("creating metric exporter: %w", err)
		}
		options = append(options, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Metrics.Interval.Std())),
		))
	}

	return sdkmetric.NewMeterProvider(options...), nil
}
