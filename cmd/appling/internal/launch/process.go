// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package launch

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/AleutianAI/appling/cmd/appling/internal/identity"
	"github.com/AleutianAI/appling/cmd/appling/internal/readiness"
)

// ProcessStarter starts background processes.
type ProcessStarter interface {
	// Start launches name with args and returns its PID without waiting.
	Start(ctx context.Context, name string, args ...string) (int, error)
}

// DetachedStarter starts processes in their own session (Unix) or
// detached process group (Windows) so they outlive the launcher.
type DetachedStarter struct{}

// Start implements ProcessStarter.
func (DetachedStarter) Start(_ context.Context, name string, args ...string) (int, error) {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = detachedAttr()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", name, err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}

// Launcher starts the application once the platform is ready.
type Launcher interface {
	// Launch runs the application link on the platform at platformPath.
	Launch(ctx context.Context, platformPath string, app identity.Identity, link identity.Link, name string) error

	// Relaunch starts the launcher executable again. arg, when not
	// empty, is passed as its only argument.
	Relaunch(ctx context.Context, app identity.Identity, arg string) error
}

// ProcessLauncher is the default Launcher.
type ProcessLauncher struct {
	Starter ProcessStarter
	GOOS    string
	Logger  *slog.Logger
}

// NewProcessLauncher returns a ProcessLauncher that detaches its children.
func NewProcessLauncher(goos string, logger *slog.Logger) *ProcessLauncher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ProcessLauncher{Starter: DetachedStarter{}, GOOS: goos, Logger: logger}
}

// Launch implements Launcher.
//
// The runtime is invoked as:
//
//	pear-runtime run --appling <exe> --name <name> <link>
func (l *ProcessLauncher) Launch(ctx context.Context, platformPath string, app identity.Identity, link identity.Link, name string) error {
	runtimePath := readiness.RuntimePath(platformPath, l.GOOS)
	args := []string{"run", "--appling", app.ExePath}
	if name != "" {
		args = append(args, "--name", name)
	}
	args = append(args, link.String())

	pid, err := l.Starter.Start(ctx, runtimePath, args...)
	if err != nil {
		return err
	}
	l.Logger.Info("application launched", "runtime", runtimePath, "pid", pid, "link", link.String())
	return nil
}

// Relaunch implements Launcher.
func (l *ProcessLauncher) Relaunch(ctx context.Context, app identity.Identity, arg string) error {
	var args []string
	if arg != "" {
		args = append(args, arg)
	}
	pid, err := l.Starter.Start(ctx, app.ExePath, args...)
	if err != nil {
		return err
	}
	l.Logger.Info("launcher relaunched", "exe", app.ExePath, "pid", pid)
	return nil
}
