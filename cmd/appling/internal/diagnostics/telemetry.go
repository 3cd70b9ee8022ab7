// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
)

const instrumentationName = "github.com/AleutianAI/appling"

// ErrUnknownExporter is returned for an exporter name Init does not know.
var ErrUnknownExporter = errors.New("unknown telemetry exporter")

// TelemetryConfig configures tracing and metrics.
type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string

	// Traces is "none", "stdout" or "otlp".
	Traces string

	// Metrics is "none", "stdout" or "prometheus".
	Metrics string

	// OTLPEndpoint is the collector address for otlp traces.
	OTLPEndpoint string
	OTLPInsecure bool

	// Dir receives file-based output: traces.json, metrics.json and
	// metrics.prom. Required when any exporter writes files.
	Dir string
}

// Telemetry owns the launcher's tracer and instruments.
//
// # Description
//
// The launcher is a short-lived process, so nothing is scraped: the
// prometheus exporter is backed by a private registry that is written to
// <Dir>/metrics.prom when Shutdown runs.
//
// # Thread Safety
//
// Safe for concurrent use after Init returns.
type Telemetry struct {
	tracer trace.Tracer

	launches          metric.Int64Counter
	bootstrapDuration metric.Float64Histogram
	lastLaunch        prometheus.Gauge

	registry *prometheus.Registry
	promPath string

	shutdownFuncs []func(context.Context) error
	files         []io.Closer
}

// Noop returns a Telemetry that records nothing.
func Noop() *Telemetry {
	t, _ := newTelemetry(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	return t
}

// InitTelemetry builds providers for cfg and installs them as the otel
// globals.
//
// # Inputs
//
//   - ctx: used by exporters that dial out
//   - cfg: exporter selection
//
// # Outputs
//
//   - *Telemetry: ready to use; call Shutdown before exit
//   - error: ErrUnknownExporter or exporter construction failures
func InitTelemetry(ctx context.Context, cfg TelemetryConfig) (*Telemetry, error) {
	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	t := &Telemetry{}
	var tp trace.TracerProvider = tracenoop.NewTracerProvider()
	var mp metric.MeterProvider = metricnoop.NewMeterProvider()

	if cfg.Traces != "" && cfg.Traces != "none" {
		sdkTP, err := t.initTracer(ctx, cfg, res)
		if err != nil {
			t.closeFiles()
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		tp = sdkTP
		otel.SetTracerProvider(sdkTP)
		t.shutdownFuncs = append(t.shutdownFuncs, sdkTP.Shutdown)
	}

	if cfg.Metrics != "" && cfg.Metrics != "none" {
		sdkMP, err := t.initMeter(cfg, res)
		if err != nil {
			t.closeFiles()
			return nil, fmt.Errorf("init meter: %w", err)
		}
		mp = sdkMP
		otel.SetMeterProvider(sdkMP)
		t.shutdownFuncs = append(t.shutdownFuncs, sdkMP.Shutdown)
	}

	full, err := newTelemetry(tp, mp)
	if err != nil {
		return nil, err
	}
	t.tracer = full.tracer
	t.launches = full.launches
	t.bootstrapDuration = full.bootstrapDuration
	if t.registry != nil {
		t.lastLaunch = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "appling_last_launch_timestamp_seconds",
			Help: "Unix time of the last completed launch.",
		})
		if err := t.registry.Register(t.lastLaunch); err != nil {
			return nil, fmt.Errorf("register gauge: %w", err)
		}
	}
	return t, nil
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) (*Telemetry, error) {
	meter := mp.Meter(instrumentationName)

	launches, err := meter.Int64Counter(
		"appling.launches",
		metric.WithDescription("Launch attempts by outcome."),
	)
	if err != nil {
		return nil, fmt.Errorf("create launches counter: %w", err)
	}
	duration, err := meter.Float64Histogram(
		"appling.bootstrap.duration",
		metric.WithDescription("Wall time of the bootstrap call."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create bootstrap histogram: %w", err)
	}
	return &Telemetry{
		tracer:            tp.Tracer(instrumentationName),
		launches:          launches,
		bootstrapDuration: duration,
	}, nil
}

func (t *Telemetry) initTracer(ctx context.Context, cfg TelemetryConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Traces {
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent(cfg.ServiceName + "/" + cfg.ServiceVersion)),
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)

	case "stdout":
		var f *os.File
		f, err = t.createFile(cfg.Dir, "traces.json")
		if err == nil {
			exporter, err = stdouttrace.New(stdouttrace.WithWriter(f))
		}

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.Traces)
	}
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	), nil
}

func (t *Telemetry) initMeter(cfg TelemetryConfig, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	switch cfg.Metrics {
	case "prometheus":
		if cfg.Dir == "" {
			return nil, errors.New("prometheus metrics need a telemetry directory")
		}
		t.registry = prometheus.NewRegistry()
		t.promPath = filepath.Join(cfg.Dir, "metrics.prom")
		exporter, err := promexporter.New(promexporter.WithRegisterer(t.registry))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		), nil

	case "stdout":
		f, err := t.createFile(cfg.Dir, "metrics.json")
		if err != nil {
			return nil, err
		}
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(f))
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.Metrics)
	}
}

func (t *Telemetry) createFile(dir, name string) (*os.File, error) {
	if dir == "" {
		return nil, fmt.Errorf("telemetry directory required for %s", name)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, err
	}
	t.files = append(t.files, f)
	return f, nil
}

func (t *Telemetry) closeFiles() {
	for _, f := range t.files {
		_ = f.Close()
	}
	t.files = nil
}

// StartPhase starts a span for one launch phase ("lock", "resolve",
// "bootstrap", ...).
func (t *Telemetry) StartPhase(ctx context.Context, phase string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "appling."+phase, trace.WithAttributes(attrs...))
}

// EndPhase ends span, marking it failed when err is non-nil.
func EndPhase(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// RecordLaunch counts one finished launch with its outcome
// ("direct", "bootstrap" or "failed").
func (t *Telemetry) RecordLaunch(ctx context.Context, outcome string) {
	t.launches.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if t.lastLaunch != nil {
		t.lastLaunch.SetToCurrentTime()
	}
}

// RecordBootstrap records the duration of one bootstrap call.
func (t *Telemetry) RecordBootstrap(ctx context.Context, d time.Duration, ok bool) {
	t.bootstrapDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("ok", ok)))
}

// Shutdown flushes exporters, writes the prometheus text file and closes
// output files.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.registry != nil {
		if err := os.MkdirAll(filepath.Dir(t.promPath), 0750); err != nil {
			errs = append(errs, err)
		} else if err := prometheus.WriteToTextfile(t.promPath, t.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	for _, fn := range t.shutdownFuncs {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.closeFiles()
	return errors.Join(errs...)
}
