// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bootstrap installs the platform when it is missing or not
// ready.
//
// The Coordinator runs one bootstrap call on the launcher's worker
// goroutine. The default Bootstrapper is the Installer: it evaluates a
// bootstrap plan with a short-lived script Engine, downloads the platform
// archive, verifies it, unpacks it into the by-dkey layout and records it
// in the platform index.
package bootstrap

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/AleutianAI/appling/cmd/appling/internal/platform"
	"github.com/AleutianAI/appling/cmd/appling/internal/readiness"
	"github.com/AleutianAI/appling/pkg/clock"
)

const tmpDirName = "tmp"

// Bootstrapper installs the platform identified by key under root.
//
// Implementations receive only the key and root, never the shared
// descriptor, and report failures as *Error.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, engine Engine, key [platform.KeySize]byte, root string) error
}

// InstallerConfig configures an Installer.
type InstallerConfig struct {
	// Mirror is exposed to the plan as the "mirror" variable.
	Mirror string

	// Length is the platform length this launcher needs. Exposed to the
	// plan as "length" and used when the plan does not set one.
	Length uint64

	// Triple overrides the by-arch directory. Default: platform.TargetTriple().
	Triple string

	// Clock stamps the checkout marker and index entry. Default: clock.Real().
	Clock clock.Clock

	Fetcher  *Fetcher
	Logger   *slog.Logger
	Recorder platform.Recorder
}

// Installer is the default Bootstrapper.
//
// # Description
//
// Steps, all under root while the caller holds the platform lock:
//
//  1. Evaluate the plan with the given engine.
//  2. Download the archive into <root>/tmp, hashing it with BLAKE3.
//  3. Verify the checksum when the plan declares one.
//  4. Extract into a staging directory and check the entry point exists.
//  5. Write the checkout marker into the staging directory.
//  6. Replace <root>/by-dkey/<dkey>/<fork>/by-arch/<triple> with it.
//  7. Record the install in the platform index.
//
// A failure at any step leaves the previous install (if any) in place
// except after step 6, and removes temporary files.
type Installer struct {
	cfg InstallerConfig
}

// NewInstaller creates an Installer.
func NewInstaller(cfg InstallerConfig) *Installer {
	if cfg.Triple == "" {
		cfg.Triple = platform.TargetTriple()
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = NewFetcher(FetchConfig{})
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Installer{cfg: cfg}
}

// Bootstrap implements Bootstrapper.
func (in *Installer) Bootstrap(ctx context.Context, engine Engine, key [platform.KeySize]byte, root string) error {
	dkey := platform.DiscoveryKey(key)
	keyHex := hex.EncodeToString(key[:])

	plan, err := engine.Evaluate(ctx, Vars{
		Key:    keyHex,
		DKey:   dkey,
		Triple: in.cfg.Triple,
		OS:     runtime.GOOS,
		Arch:   runtime.GOARCH,
		Mirror: strings.TrimSuffix(in.cfg.Mirror, "/"),
		Length: in.cfg.Length,
	})
	if err != nil {
		return failf(err, "evaluate bootstrap plan")
	}
	format, err := DetectFormat(plan.Source)
	if err != nil {
		return failf(err, "bootstrap source %s", plan.Source)
	}
	in.cfg.Logger.Info("bootstrapping platform", "source", plan.Source, "fork", plan.Fork, "format", format.String())
	in.record("bootstrap", "source="+plan.Source)

	tmpDir := filepath.Join(root, tmpDirName)
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return failf(err, "create %s", tmpDir)
	}

	archive, err := os.CreateTemp(tmpDir, "platform-*."+format.String())
	if err != nil {
		return failf(err, "create download file")
	}
	defer func() {
		archive.Close()
		os.Remove(archive.Name())
	}()

	hasher := blake3.New()
	n, err := in.cfg.Fetcher.Fetch(ctx, plan.Source, io.MultiWriter(archive, hasher))
	if err != nil {
		return failf(err, "download %s", plan.Source)
	}
	sum := hex.EncodeToString(hasher.Sum(nil))
	in.cfg.Logger.Debug("platform archive downloaded", "bytes", n, "blake3", sum)
	if plan.Checksum != "" && !strings.EqualFold(plan.Checksum, sum) {
		return failf(nil, "checksum mismatch for %s: got %s, want %s", plan.Source, sum, plan.Checksum)
	}

	if _, err := archive.Seek(0, io.SeekStart); err != nil {
		return failf(err, "rewind archive")
	}
	stage := filepath.Join(tmpDir, "stage-"+uuid.NewString())
	defer os.RemoveAll(stage)

	if err := Extract(archive, format, stage); err != nil {
		return failf(err, "extract %s", plan.Source)
	}
	if info, err := os.Stat(readiness.EntryPath(stage)); err != nil || !info.Mode().IsRegular() {
		return failf(err, "archive %s has no %s", plan.Source, readiness.EntryRelPath)
	}

	marker := readiness.Marker{
		Key:         keyHex,
		Length:      plan.Length,
		Fork:        plan.Fork,
		Version:     plan.Version,
		InstalledAt: in.cfg.Clock.Now().UTC(),
	}
	if err := readiness.WriteMarker(stage, marker); err != nil {
		return failf(err, "write checkout marker")
	}

	rel := filepath.Join("by-dkey", dkey, fmt.Sprintf("%d", plan.Fork), "by-arch", in.cfg.Triple)
	target := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return failf(err, "create %s", filepath.Dir(target))
	}
	if err := os.RemoveAll(target); err != nil {
		return failf(err, "remove previous install %s", target)
	}
	if err := os.Rename(stage, target); err != nil {
		return failf(err, "install %s", target)
	}

	entry := platform.Entry{
		Path:        rel,
		Length:      plan.Length,
		Fork:        plan.Fork,
		Version:     plan.Version,
		InstalledAt: marker.InstalledAt,
	}
	if err := platform.PutIndexEntry(root, key, entry, in.cfg.Logger); err != nil {
		return failf(err, "update platform index")
	}

	in.cfg.Logger.Info("platform installed", "path", target)
	in.record("bootstrap", "installed="+target)
	return nil
}

func (in *Installer) record(tag, detail string) {
	if in.cfg.Recorder != nil {
		in.cfg.Recorder.Record(tag, detail)
	}
}
