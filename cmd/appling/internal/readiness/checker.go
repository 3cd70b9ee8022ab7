// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package readiness decides whether a resolved platform can run the
// application right now, and finalizes the link between the two before
// launch.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/appling/cmd/appling/internal/identity"
	"github.com/AleutianAI/appling/cmd/appling/internal/platform"
)

const linksDirName = "links"

var (
	// ErrPreflight is returned when the platform is not usable at
	// preflight time. The launch sequencer treats it as fatal.
	ErrPreflight = errors.New("preflight failed")

	// ErrInvalidMinVersion is returned by NewChecker for an unparsable
	// minimum runtime version.
	ErrInvalidMinVersion = errors.New("invalid minimum runtime version")
)

// Config configures a Checker.
type Config struct {
	// Root is the platform root; link registrations live under it.
	Root string

	// MinVersion is the oldest acceptable runtime version. Empty accepts
	// any version.
	MinVersion string

	// GOOS selects the runtime executable name. Default: runtime.GOOS.
	GOOS string

	Logger *slog.Logger
}

// Registration is the record Preflight writes for an application.
type Registration struct {
	Link      string    `yaml:"link"`
	AppID     string    `yaml:"app_id"`
	Platform  string    `yaml:"platform"`
	Appling   string    `yaml:"appling"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// Checker implements the readiness and preflight checks.
//
// # Thread Safety
//
// Safe for concurrent use. Preflight writes are atomic renames.
type Checker struct {
	root       string
	minVersion string
	goos       string
	logger     *slog.Logger
	now        func() time.Time
}

// NewChecker validates cfg and creates a Checker.
func NewChecker(cfg Config) (*Checker, error) {
	minVersion := ""
	if cfg.MinVersion != "" {
		minVersion = canonicalVersion(cfg.MinVersion)
		if !semver.IsValid(minVersion) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidMinVersion, cfg.MinVersion)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	goos := cfg.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	return &Checker{
		root:       cfg.Root,
		minVersion: minVersion,
		goos:       goos,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// IsReady reports whether d can run link without bootstrapping.
//
// # Description
//
// Ready means: the link ID is valid, the entry point and the runtime
// executable exist as regular files, and the checkout marker belongs to d's key with at least d's
// length and, when configured, at least the minimum runtime version.
//
// # Inputs
//
//   - ctx: cancellation
//   - d: a resolved descriptor
//   - link: the link that will be launched
//
// # Outputs
//
//   - bool: true when ready
//   - error: non-nil when the check itself failed (unresolved descriptor,
//     unreadable or corrupt marker). Callers treat it as not ready.
func (c *Checker) IsReady(ctx context.Context, d *platform.Descriptor, link identity.Link) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := d.Path()
	if err != nil {
		return false, err
	}
	if !identity.IsValidID(link.ID) {
		c.logger.Debug("not ready: invalid link id", "id", link.ID)
		return false, nil
	}

	for _, file := range []string{EntryPath(path), RuntimePath(path, c.goos)} {
		ok, err := regularFile(file)
		if err != nil {
			return false, err
		}
		if !ok {
			c.logger.Debug("not ready: file missing", "path", file)
			return false, nil
		}
	}

	marker, err := ReadMarker(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Debug("not ready: marker missing", "path", MarkerPath(path))
			return false, nil
		}
		return false, err
	}

	if marker.Key != d.KeyHex() {
		c.logger.Debug("not ready: marker key mismatch", "marker", marker.Key, "want", d.KeyHex())
		return false, nil
	}
	if marker.Length < d.Length {
		c.logger.Debug("not ready: checkout too short", "length", marker.Length, "want", d.Length)
		return false, nil
	}
	if c.minVersion != "" {
		v := canonicalVersion(marker.Version)
		if !semver.IsValid(v) || semver.Compare(v, c.minVersion) < 0 {
			c.logger.Debug("not ready: runtime too old", "version", marker.Version, "min", c.minVersion)
			return false, nil
		}
	}
	return true, nil
}

// Preflight finalizes the application against the platform.
//
// # Description
//
// Re-checks readiness, since the platform may have been replaced between
// bootstrap and now, then records the link registration under
// <root>/links/<link-id>.yaml. Any failure wraps ErrPreflight.
func (c *Checker) Preflight(ctx context.Context, d *platform.Descriptor, link identity.Link, app identity.Identity) error {
	ready, err := c.IsReady(ctx, d, link)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPreflight, err)
	}
	if !ready {
		return fmt.Errorf("%w: platform not ready", ErrPreflight)
	}

	reg := Registration{
		Link:      link.String(),
		AppID:     app.ID.String(),
		Platform:  d.MustPath(),
		Appling:   app.ExePath,
		UpdatedAt: c.now().UTC(),
	}
	data, err := yaml.Marshal(reg)
	if err != nil {
		return fmt.Errorf("%w: encode registration: %v", ErrPreflight, err)
	}
	if err := writeFileAtomic(c.RegistrationPath(link), data); err != nil {
		return fmt.Errorf("%w: write registration: %v", ErrPreflight, err)
	}
	c.logger.Info("preflight complete", "link", reg.Link, "platform", reg.Platform)
	return nil
}

// RegistrationPath returns where Preflight records link.
func (c *Checker) RegistrationPath(link identity.Link) string {
	return filepath.Join(c.root, linksDirName, link.ID+".yaml")
}

// ReadRegistration loads the registration for link.
func (c *Checker) ReadRegistration(link identity.Link) (Registration, error) {
	var reg Registration
	data, err := os.ReadFile(c.RegistrationPath(link))
	if err != nil {
		return reg, err
	}
	err = yaml.Unmarshal(data, &reg)
	return reg, err
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// regularFile reports whether path is an existing regular file.
func regularFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Mode().IsRegular(), nil
}
