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
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables read by the loader.
const (
	EnvConfig      = "APPLING_CONFIG"
	EnvPlatformDir = "APPLING_PLATFORM_DIR"
	EnvSnapCommon  = "SNAP_USER_COMMON"
)

// envOverrides apply after the file is read.
var envOverrides = []struct {
	name  string
	apply func(*AppConfig, string) error
}{
	{"APPLING_LOG_LEVEL", func(c *AppConfig, v string) error { c.Logging.Level = v; return nil }},
	{"APPLING_SPLASH_TOOLKIT", func(c *AppConfig, v string) error { c.Splash.Toolkit = v; return nil }},
	{"APPLING_RESOLVER_FALLBACK", func(c *AppConfig, v string) error { c.Resolver.Fallback = v; return nil }},
	{"APPLING_BOOTSTRAP_MIRROR", func(c *AppConfig, v string) error { c.Bootstrap.Mirror = v; return nil }},
	{"APPLING_BOOTSTRAP_LOG_MODE", func(c *AppConfig, v string) error { c.Diagnostics.BootstrapLog = v; return nil }},
	{"APPLING_TRACES", func(c *AppConfig, v string) error { c.Telemetry.Traces = v; return nil }},
	{"APPLING_METRICS", func(c *AppConfig, v string) error { c.Telemetry.Metrics = v; return nil }},
	{"APPLING_RELAUNCH", func(c *AppConfig, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("APPLING_RELAUNCH: %w", err)
		}
		c.Bootstrap.Relaunch = b
		return nil
	}},
}

var validate = validator.New()

// userConfigDir is swapped by tests.
var userConfigDir = os.UserConfigDir

// DefaultPath returns $APPLING_CONFIG, or config.yaml under the
// per-user configuration directory.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return p, nil
	}
	dir, err := userConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user config directory: %w", err)
	}
	return filepath.Join(dir, "appling", "config.yaml"), nil
}

// Load reads the configuration from DefaultPath.
func Load() (AppConfig, error) {
	path, err := DefaultPath()
	if err != nil {
		return AppConfig{}, err
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults, applies environment overrides
// and validates the result. A missing file yields the defaults.
func LoadFile(path string) (AppConfig, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("failed to read the config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}

	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			if err := o.apply(&cfg, v); err != nil {
				return cfg, err
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks every field against its validate tag.
func (c AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Telemetry.Traces == "otlp" && c.Telemetry.OTLPEndpoint == "" {
		return errors.New("invalid configuration: telemetry.otlp_endpoint is required for otlp traces")
	}
	return nil
}

// PlatformRoot returns the platform root directory.
//
// # Description
//
// First match wins:
//
//  1. $APPLING_PLATFORM_DIR
//  2. $SNAP_USER_COMMON/pear on linux
//  3. platform_dir from the file
//  4. pear under the per-user configuration directory
func (c AppConfig) PlatformRoot(goos string, getenv func(string) string) (string, error) {
	if p := getenv(EnvPlatformDir); p != "" {
		return p, nil
	}
	if goos == "linux" {
		if snap := getenv(EnvSnapCommon); snap != "" {
			return filepath.Join(snap, "pear"), nil
		}
	}
	if c.PlatformDir != "" {
		return c.PlatformDir, nil
	}
	dir, err := userConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user config directory: %w", err)
	}
	return filepath.Join(dir, "pear"), nil
}
