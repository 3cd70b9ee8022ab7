// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable the loader reads so the host
// environment cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvConfig, "")
	for _, o := range envOverrides {
		t.Setenv(o.name, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Splash.Minimum != 5*time.Second {
		t.Errorf("Splash.Minimum = %v, want 5s", cfg.Splash.Minimum)
	}
	if !cfg.Bootstrap.Relaunch {
		t.Error("Bootstrap.Relaunch should default to true")
	}
}

func TestLoadFile_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Resolver.Fallback != "auto" || cfg.Splash.Toolkit != "auto" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFile_ReadsFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
platform_dir: /srv/pear
resolver:
  fallback: always
splash:
  toolkit: headless
  minimum: 2s
bootstrap:
  mirror: https://mirror.example/pear
  relaunch: false
  gcs_anonymous: true
telemetry:
  traces: otlp
  otlp_endpoint: localhost:4317
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.PlatformDir != "/srv/pear" {
		t.Errorf("PlatformDir = %q", cfg.PlatformDir)
	}
	if cfg.Resolver.Fallback != "always" {
		t.Errorf("Resolver.Fallback = %q", cfg.Resolver.Fallback)
	}
	if cfg.Splash.Minimum != 2*time.Second {
		t.Errorf("Splash.Minimum = %v", cfg.Splash.Minimum)
	}
	if cfg.Bootstrap.Relaunch || !cfg.Bootstrap.GCSAnonymous {
		t.Errorf("Bootstrap = %+v", cfg.Bootstrap)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Logging.Level != "info" || cfg.Diagnostics.BootstrapLog != "auto" {
		t.Errorf("defaults lost: %+v %+v", cfg.Logging, cfg.Diagnostics)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown fallback", "resolver:\n  fallback: sometimes\n"},
		{"negative minimum", "splash:\n  minimum: -1s\n"},
		{"unknown toolkit", "splash:\n  toolkit: cocoa\n"},
		{"bad mirror", "bootstrap:\n  mirror: not a url\n"},
		{"otlp without endpoint", "telemetry:\n  traces: otlp\n"},
		{"bad endpoint", "telemetry:\n  traces: otlp\n  otlp_endpoint: \"no port\"\n"},
		{"not yaml", "splash: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if _, err := LoadFile(writeConfig(t, tt.content)); err == nil {
				t.Error("LoadFile() should fail")
			}
		})
	}
}

func TestLoadFile_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APPLING_LOG_LEVEL", "debug")
	t.Setenv("APPLING_RELAUNCH", "false")
	t.Setenv("APPLING_SPLASH_TOOLKIT", "terminal")

	cfg, err := LoadFile(writeConfig(t, "logging:\n  level: error\n"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, env should win", cfg.Logging.Level)
	}
	if cfg.Bootstrap.Relaunch {
		t.Error("Bootstrap.Relaunch should be false")
	}
	if cfg.Splash.Toolkit != "terminal" {
		t.Errorf("Splash.Toolkit = %q", cfg.Splash.Toolkit)
	}

	t.Setenv("APPLING_RELAUNCH", "maybe")
	if _, err := LoadFile(filepath.Join(t.TempDir(), "none.yaml")); err == nil || !strings.Contains(err.Error(), "APPLING_RELAUNCH") {
		t.Errorf("expected APPLING_RELAUNCH error, got %v", err)
	}

	t.Setenv("APPLING_RELAUNCH", "")
	t.Setenv("APPLING_TRACES", "jaeger")
	if _, err := LoadFile(filepath.Join(t.TempDir(), "none.yaml")); err == nil {
		t.Error("invalid override should fail validation")
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(EnvConfig, "/etc/appling.yaml")
	if got, _ := DefaultPath(); got != "/etc/appling.yaml" {
		t.Errorf("DefaultPath() = %q", got)
	}

	t.Setenv(EnvConfig, "")
	orig := userConfigDir
	defer func() { userConfigDir = orig }()

	userConfigDir = func() (string, error) { return "/home/u/.config", nil }
	if got, _ := DefaultPath(); got != filepath.Join("/home/u/.config", "appling", "config.yaml") {
		t.Errorf("DefaultPath() = %q", got)
	}

	userConfigDir = func() (string, error) { return "", errors.New("no home") }
	if _, err := DefaultPath(); err == nil {
		t.Error("DefaultPath() should fail without a config dir")
	}
}

func TestPlatformRoot(t *testing.T) {
	orig := userConfigDir
	defer func() { userConfigDir = orig }()
	userConfigDir = func() (string, error) { return "/cfg", nil }

	env := func(m map[string]string) func(string) string {
		return func(k string) string { return m[k] }
	}
	withDir := AppConfig{PlatformDir: "/from/file"}

	tests := []struct {
		name string
		cfg  AppConfig
		goos string
		env  map[string]string
		want string
	}{
		{"env wins", withDir, "linux", map[string]string{EnvPlatformDir: "/env", EnvSnapCommon: "/snap"}, "/env"},
		{"snap on linux", withDir, "linux", map[string]string{EnvSnapCommon: "/snap"}, filepath.Join("/snap", "pear")},
		{"snap ignored elsewhere", withDir, "darwin", map[string]string{EnvSnapCommon: "/snap"}, "/from/file"},
		{"file", withDir, "windows", nil, "/from/file"},
		{"default", AppConfig{}, "linux", nil, filepath.Join("/cfg", "pear")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.PlatformRoot(tt.goos, env(tt.env))
			if err != nil {
				t.Fatalf("PlatformRoot() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("PlatformRoot() = %q, want %q", got, tt.want)
			}
		})
	}
}
