// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the launcher's on-disk configuration.
//
// Every field has a working default, so a missing file is not an error.
package config

import (
	"time"
)

// AppConfig is the root of config.yaml.
type AppConfig struct {
	// PlatformDir overrides the platform root. The APPLING_PLATFORM_DIR
	// and SNAP_USER_COMMON environment variables still win over it.
	PlatformDir string `yaml:"platform_dir,omitempty"`

	Resolver    ResolverConfig    `yaml:"resolver"`
	Splash      SplashConfig      `yaml:"splash"`
	Bootstrap   BootstrapConfig   `yaml:"bootstrap"`
	Readiness   ReadinessConfig   `yaml:"readiness"`
	Logging     LoggingConfig     `yaml:"logging"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

type ResolverConfig struct {
	// Fallback enables the directory scan when the index misses:
	// auto (windows only), always or never.
	Fallback string `yaml:"fallback" validate:"oneof=auto always never"`
}

type SplashConfig struct {
	// Toolkit is auto, terminal or headless.
	Toolkit string `yaml:"toolkit" validate:"oneof=auto terminal headless"`

	// Image overrides the splash PNG location.
	Image string `yaml:"image,omitempty"`

	// Minimum is how long the splash stays up at least.
	Minimum time.Duration `yaml:"minimum" validate:"gte=0"`

	Title string `yaml:"title,omitempty"`
}

type BootstrapConfig struct {
	// Plan is an HCL plan file replacing the built-in one.
	Plan string `yaml:"plan,omitempty"`

	// Mirror is the download base URL handed to the plan.
	Mirror string `yaml:"mirror,omitempty" validate:"omitempty,url"`

	GCSAnonymous   bool   `yaml:"gcs_anonymous"`
	GCSCredentials string `yaml:"gcs_credentials,omitempty"`

	// Relaunch restarts the launcher once bootstrap completes.
	Relaunch bool `yaml:"relaunch"`
}

type ReadinessConfig struct {
	// MinVersion is the oldest runtime version accepted as ready.
	MinVersion string `yaml:"min_version,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
}

type DiagnosticsConfig struct {
	// BootstrapLog is auto (windows only), always or never.
	BootstrapLog string `yaml:"bootstrap_log" validate:"oneof=auto always never"`
}

type TelemetryConfig struct {
	Traces       string `yaml:"traces" validate:"oneof=none stdout otlp"`
	Metrics      string `yaml:"metrics" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" validate:"omitempty,hostname_port"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() AppConfig {
	return AppConfig{
		Resolver: ResolverConfig{Fallback: "auto"},
		Splash: SplashConfig{
			Toolkit: "auto",
			Minimum: 5 * time.Second,
		},
		Bootstrap: BootstrapConfig{Relaunch: true},
		Logging:   LoggingConfig{Level: "info"},
		Diagnostics: DiagnosticsConfig{
			BootstrapLog: "auto",
		},
		Telemetry: TelemetryConfig{
			Traces:  "none",
			Metrics: "none",
		},
	}
}
