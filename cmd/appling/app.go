// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/appling/cmd/appling/config"
	"github.com/AleutianAI/appling/cmd/appling/internal/bootstrap"
	"github.com/AleutianAI/appling/cmd/appling/internal/diagnostics"
	"github.com/AleutianAI/appling/cmd/appling/internal/identity"
	"github.com/AleutianAI/appling/cmd/appling/internal/launch"
	"github.com/AleutianAI/appling/cmd/appling/internal/lock"
	"github.com/AleutianAI/appling/cmd/appling/internal/platform"
	"github.com/AleutianAI/appling/cmd/appling/internal/readiness"
	"github.com/AleutianAI/appling/cmd/appling/internal/splash"
	"github.com/AleutianAI/appling/cmd/appling/internal/ui"
	"github.com/AleutianAI/appling/pkg/clock"
	"github.com/AleutianAI/appling/pkg/logging"
)

// envAppID supplies the application ID to binaries built without one.
const envAppID = "APPLING_APP_ID"

const telemetryShutdownTimeout = 5 * time.Second

// app holds the components shared by every command.
type app struct {
	cfg  config.AppConfig
	goos string
	root string

	ident     identity.Identity
	platform  *platform.Descriptor
	clock     clock.Clock
	logger    *logging.Logger
	bootLog   *diagnostics.BootLog
	telemetry *diagnostics.Telemetry
	resolver  *platform.Resolver
	checker   *readiness.Checker
}

func loadAppID() (identity.AppID, error) {
	s := appID
	if s == "" {
		s = os.Getenv(envAppID)
	}
	if s == "" {
		return identity.AppID{}, errors.New("no application id: build with -ldflags \"-X main.appID=<hex>\" or set " + envAppID)
	}
	return identity.ParseAppID(s)
}

// newApp loads the configuration and builds the shared components.
func newApp(ctx context.Context, goos string) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	root, err := cfg.PlatformRoot(goos, os.Getenv)
	if err != nil {
		return nil, err
	}
	id, err := loadAppID()
	if err != nil {
		return nil, err
	}
	ident, err := identity.Current(id)
	if err != nil {
		return nil, err
	}

	// Validated by config.Load.
	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  filepath.Join(root, "logs"),
		Service: "appling",
		JSON:    cfg.Logging.JSON,
	})

	c := clock.Real()
	a := &app{
		cfg:      cfg,
		goos:     goos,
		root:     root,
		ident:    ident,
		platform: platform.Default(),
		clock:    c,
		logger:   logger,
		bootLog:  diagnostics.NewBootLog(root, diagnostics.BootLogMode(cfg.Diagnostics.BootstrapLog).Enabled(goos), c),
	}

	a.telemetry, err = diagnostics.InitTelemetry(ctx, diagnostics.TelemetryConfig{
		ServiceName:    "appling",
		ServiceVersion: version,
		Traces:         cfg.Telemetry.Traces,
		Metrics:        cfg.Telemetry.Metrics,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		Dir:            filepath.Join(root, "telemetry"),
	})
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
		a.telemetry = diagnostics.Noop()
	}

	primary, fallback := platform.Strategies(goos, platform.FallbackMode(cfg.Resolver.Fallback), logger.Slog())
	if !platform.IndexReadable(goos) {
		logger.Info("platform index is not readable on this OS, resolving by scan",
			"os", goos, "fallback_mode", cfg.Resolver.Fallback)
	}
	a.resolver = platform.NewResolver(platform.ResolverConfig{
		Root:     root,
		Primary:  primary,
		Fallback: fallback,
		Logger:   logger.Slog(),
		Recorder: a.bootLog,
	})

	a.checker, err = readiness.NewChecker(readiness.Config{
		Root:       root,
		MinVersion: cfg.Readiness.MinVersion,
		Logger:     logger.Slog(),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// sequencer wires the launch protocol.
func (a *app) sequencer() (*launch.Sequencer, error) {
	mode, err := ui.ParseMode(a.cfg.Splash.Toolkit)
	if err != nil {
		return nil, err
	}
	slogger := a.logger.Slog()

	fetcher := bootstrap.NewFetcher(bootstrap.FetchConfig{
		UserAgent:          "appling/" + version,
		GCSCredentialsFile: a.cfg.Bootstrap.GCSCredentials,
		GCSAnonymous:       a.cfg.Bootstrap.GCSAnonymous,
	})
	installer := bootstrap.NewInstaller(bootstrap.InstallerConfig{
		Mirror:   a.cfg.Bootstrap.Mirror,
		Length:   a.platform.Length,
		Clock:    a.clock,
		Fetcher:  fetcher,
		Logger:   slogger,
		Recorder: a.bootLog,
	})
	coordinator := bootstrap.NewCoordinator(bootstrap.CoordinatorConfig{
		Bootstrapper: installer,
		NewEngine:    bootstrap.HCLEngineFactory(a.cfg.Bootstrap.Plan),
		Clock:        a.clock,
		Logger:       slogger,
		Recorder:     a.bootLog,
	})

	return launch.NewSequencer(launch.Config{
		Identity:  a.ident,
		Name:      appName,
		Root:      a.root,
		Platform:  a.platform,
		Locker:    lock.NewManager(lock.Config{Logger: slogger}),
		Resolver:  a.resolver,
		Readiness: a.checker,
		Bootstrap: coordinator,
		Launcher:  launch.NewProcessLauncher(a.goos, slogger),
		Toolkit:   ui.Select(mode, os.Stderr),
		Splash: splash.Config{
			ImagePath: a.cfg.Splash.Image,
			Title:     a.cfg.Splash.Title,
		},
		SplashMinimum: a.cfg.Splash.Minimum,
		Relaunch:      a.cfg.Bootstrap.Relaunch,
		Clock:         a.clock,
		Logger:        a.logger,
		BootLog:       a.bootLog,
		Telemetry:     a.telemetry,
	})
}

type statusReport struct {
	Root         string
	LockHolder   int
	PlatformPath string
	ResolveErr   error
	Ready        bool
	BootLog      string
}

// status inspects the platform root without taking the lock.
func (a *app) status(ctx context.Context) statusReport {
	st := statusReport{Root: a.root, LockHolder: lock.HolderPID(a.root)}
	if a.bootLog.Enabled() {
		st.BootLog = a.bootLog.Path()
	}

	d := platform.NewDescriptor(a.platform.Key, a.platform.Length)
	if err := a.resolver.Resolve(ctx, d); err != nil {
		st.ResolveErr = err
		return st
	}
	st.PlatformPath = d.MustPath()
	ready, err := a.checker.IsReady(ctx, d, a.ident.SelfLink())
	if err != nil {
		a.logger.Debug("readiness check failed", "error", err)
	}
	st.Ready = ready
	return st
}

// Close flushes telemetry and the log file.
func (a *app) Close() {
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", "error", err)
		}
		cancel()
	}
	if err := a.logger.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "appling: %v\n", err)
	}
}
