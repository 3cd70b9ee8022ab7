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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoop(t *testing.T) {
	tel := Noop()
	ctx, span := tel.StartPhase(context.Background(), "resolve")
	EndPhase(span, errors.New("boom"))
	tel.RecordLaunch(ctx, "fatal")
	tel.RecordBootstrap(ctx, time.Second, false)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestInitTelemetry_UnknownExporter(t *testing.T) {
	_, err := InitTelemetry(context.Background(), TelemetryConfig{Traces: "zipkin"})
	assert.ErrorIs(t, err, ErrUnknownExporter)

	_, err = InitTelemetry(context.Background(), TelemetryConfig{Metrics: "statsd"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInitTelemetry_PrometheusTextfile(t *testing.T) {
	dir := t.TempDir()
	tel, err := InitTelemetry(context.Background(), TelemetryConfig{
		ServiceName:    "appling",
		ServiceVersion: "test",
		Metrics:        "prometheus",
		Dir:            dir,
	})
	require.NoError(t, err)

	tel.RecordLaunch(context.Background(), "launched")
	tel.RecordBootstrap(context.Background(), 2*time.Second, true)
	require.NoError(t, tel.Shutdown(context.Background()))

	data, err := os.ReadFile(filepath.Join(dir, "metrics.prom"))
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "appling_launches")
	assert.Contains(t, out, `outcome="launched"`)
	assert.Contains(t, out, "appling_last_launch_timestamp_seconds")
}

func TestInitTelemetry_StdoutTraces(t *testing.T) {
	dir := t.TempDir()
	tel, err := InitTelemetry(context.Background(), TelemetryConfig{
		ServiceName: "appling",
		Traces:      "stdout",
		Dir:         dir,
	})
	require.NoError(t, err)

	_, span := tel.StartPhase(context.Background(), "bootstrap")
	EndPhase(span, nil)
	require.NoError(t, tel.Shutdown(context.Background()))

	data, err := os.ReadFile(filepath.Join(dir, "traces.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "appling.bootstrap")
}

func TestInitTelemetry_FileExporterNeedsDir(t *testing.T) {
	_, err := InitTelemetry(context.Background(), TelemetryConfig{Traces: "stdout"})
	assert.Error(t, err)
}
