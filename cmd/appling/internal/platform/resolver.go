// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Strategy locates an installed platform under a root.
//
// # Description
//
// Implementations must not modify the filesystem. They return the
// absolute install path, or an error wrapping ErrNotFound when nothing
// matches. Any other error means resolution itself failed.
type Strategy interface {
	// Name identifies the strategy in logs ("index", "scan").
	Name() string

	// Locate returns the install path of d under root.
	Locate(ctx context.Context, d *Descriptor, root string) (string, error)
}

// Recorder receives diagnostic entries. diagnostics.BootLog implements it.
type Recorder interface {
	Record(tag, detail string)
}

type nopRecorder struct{}

func (nopRecorder) Record(string, string) {}

// FallbackMode selects when the scan fallback runs.
type FallbackMode string

const (
	// FallbackAuto enables the scan on Windows only, where the index is not
	// reliable enough to be the only source.
	FallbackAuto FallbackMode = "auto"

	// FallbackAlways enables the scan on every OS.
	FallbackAlways FallbackMode = "always"

	// FallbackNever disables the scan.
	FallbackNever FallbackMode = "never"
)

// IndexReadable reports whether the index can be opened read-only on
// goos. badger refuses read-only opens on Windows.
func IndexReadable(goos string) bool {
	return goos != "windows"
}

// Strategies picks the primary and fallback strategies for goos.
//
// # Description
//
// Where the index is readable, the index is primary and mode decides
// whether the scan backs it up. Where it is not, the scan is the only
// strategy whatever mode says. Bootstrap still writes the index there.
//
// # Outputs
//
//   - primary: never nil
//   - fallback: nil when disabled
func Strategies(goos string, mode FallbackMode, logger *slog.Logger) (primary, fallback Strategy) {
	if !IndexReadable(goos) {
		return &ScanStrategy{}, nil
	}
	primary = &IndexStrategy{Logger: logger}
	if mode.Enabled(goos) {
		fallback = &ScanStrategy{}
	}
	return primary, fallback
}

// Enabled reports whether the mode turns the fallback on for goos.
func (m FallbackMode) Enabled(goos string) bool {
	switch m {
	case FallbackAlways:
		return true
	case FallbackNever:
		return false
	default:
		return goos == "windows"
	}
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Root is the platform root directory.
	Root string

	// Primary is the authoritative strategy. Default: IndexStrategy.
	Primary Strategy

	// Fallback runs when Primary reports ErrNotFound. Nil disables it.
	Fallback Strategy

	Logger   *slog.Logger
	Recorder Recorder
}

// Resolver fills a Descriptor's install path.
//
// # Thread Safety
//
// Resolver itself is safe for concurrent use. The Descriptor it writes is
// not; callers serialize resolution of one descriptor.
type Resolver struct {
	root     string
	primary  Strategy
	fallback Strategy
	logger   *slog.Logger
	recorder Recorder
}

// NewResolver creates a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	r := &Resolver{
		root:     cfg.Root,
		primary:  cfg.Primary,
		fallback: cfg.Fallback,
		logger:   cfg.Logger,
		recorder: cfg.Recorder,
	}
	if r.primary == nil {
		r.primary = &IndexStrategy{Logger: cfg.Logger}
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	if r.recorder == nil {
		r.recorder = nopRecorder{}
	}
	return r
}

// Root returns the platform root the resolver searches.
func (r *Resolver) Root() string {
	return r.root
}

// PrimaryName returns the name of the primary strategy.
func (r *Resolver) PrimaryName() string {
	return r.primary.Name()
}

// FallbackEnabled reports whether a fallback strategy is configured.
func (r *Resolver) FallbackEnabled() bool {
	return r.fallback != nil
}

// Resolve locates d and records the path on success.
//
// # Description
//
// Runs the primary strategy. If it reports ErrNotFound and a fallback is
// configured, runs the fallback. d is only written when a strategy
// succeeds; on failure d is left untouched.
//
// # Outputs
//
//   - error: nil on success; wraps ErrNotFound when no strategy found the
//     platform; anything else is a resolution failure.
func (r *Resolver) Resolve(ctx context.Context, d *Descriptor) error {
	path, err := r.primary.Locate(ctx, d, r.root)
	if err == nil {
		d.setPath(path)
		r.logger.Debug("platform resolved", "strategy", r.primary.Name(), "path", path)
		return nil
	}
	if !errors.Is(err, ErrNotFound) || r.fallback == nil {
		return err
	}

	r.logger.Info("platform index miss, scanning", "reason", err.Error())
	path, ferr := r.fallback.Locate(ctx, d, r.root)
	if ferr != nil {
		r.recorder.Record("resolve-fallback", fmt.Sprintf("not found (%v)", ferr))
		r.logger.Warn("platform fallback scan failed", "root", r.root, "error", ferr)
		return ferr
	}
	r.recorder.Record("resolve-fallback", path)
	r.logger.Info("platform resolved by scan", "strategy", r.fallback.Name(), "path", path)
	d.setPath(path)
	return nil
}

// IndexStrategy looks the platform up in the BadgerDB index.
type IndexStrategy struct {
	Logger *slog.Logger
}

// Name implements Strategy.
func (s *IndexStrategy) Name() string { return "index" }

// Locate implements Strategy.
//
// A missing or unreadable index, a missing entry, an entry for a shorter
// platform, or an entry whose directory is gone all report ErrNotFound.
func (s *IndexStrategy) Locate(ctx context.Context, d *Descriptor, root string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	idx, err := OpenIndex(IndexConfig{
		Path:     filepath.Join(root, IndexDirName),
		ReadOnly: true,
		Logger:   s.Logger,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	defer idx.Close()

	entry, err := idx.Lookup(d.Key)
	if err != nil {
		return "", err
	}
	if entry.Length < d.Length {
		return "", fmt.Errorf("%w: indexed length %d below %d", ErrNotFound, entry.Length, d.Length)
	}

	path := entry.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: indexed path %s missing", ErrNotFound, path)
	}
	return path, nil
}
