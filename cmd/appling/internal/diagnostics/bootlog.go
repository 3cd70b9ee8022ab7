// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diagnostics provides the launcher's support tooling: the
// append-only bootstrap log that survives a crash mid-install, and
// OpenTelemetry tracing and metrics for the launch phases.
package diagnostics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/AleutianAI/appling/pkg/clock"
)

// BootLogFileName is the diagnostic log inside the platform root.
const BootLogFileName = "bootstrap.log"

// EnvBootLog carries the diagnostic log path to bootstrap helpers and
// child processes.
const EnvBootLog = "APPLING_BOOTSTRAP_LOG"

// BootLogMode selects when the diagnostic log is written.
type BootLogMode string

const (
	// BootLogAuto writes the log on Windows only, where installs fail in
	// ways that leave no console output behind.
	BootLogAuto BootLogMode = "auto"

	BootLogAlways BootLogMode = "always"
	BootLogNever  BootLogMode = "never"
)

// Enabled reports whether the mode writes the log on goos.
func (m BootLogMode) Enabled(goos string) bool {
	switch m {
	case BootLogAlways:
		return true
	case BootLogNever:
		return false
	default:
		return goos == "windows"
	}
}

// BootLog appends "[<unix-nanos>] tag: detail" lines to
// <root>/bootstrap.log.
//
// # Description
//
// Every Record opens the file in append mode, writes one line and closes
// it, so entries written before a crash are on disk. Any I/O failure is
// dropped: diagnostics must never change the outcome of a launch.
//
// # Thread Safety
//
// Safe for concurrent use. Lines from concurrent callers never
// interleave.
type BootLog struct {
	path    string
	enabled bool
	clock   clock.Clock
	mu      sync.Mutex
}

// NewBootLog creates a BootLog under root. A disabled BootLog accepts
// every call and writes nothing.
func NewBootLog(root string, enabled bool, c clock.Clock) *BootLog {
	if c == nil {
		c = clock.Real()
	}
	return &BootLog{
		path:    filepath.Join(root, BootLogFileName),
		enabled: enabled,
		clock:   c,
	}
}

// Path returns the log file path.
func (b *BootLog) Path() string {
	return b.path
}

// Enabled reports whether entries are written.
func (b *BootLog) Enabled() bool {
	return b != nil && b.enabled
}

// Record appends one entry.
func (b *BootLog) Record(tag, detail string) {
	if !b.Enabled() {
		return
	}
	line := fmt.Sprintf("[%d] %s: %s\n", b.clock.Now().UnixNano(), tag, detail)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return
	}
	f, err := os.OpenFile(b.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	_, _ = f.WriteString(line)
	_ = f.Close()
}

// Recordf appends one formatted entry.
func (b *BootLog) Recordf(tag, format string, args ...any) {
	if !b.Enabled() {
		return
	}
	b.Record(tag, fmt.Sprintf(format, args...))
}

// Stat records what exists at path: "<path> dir", "<path> file size=<n>"
// or "<path> missing (<err>)".
func (b *BootLog) Stat(tag, path string) {
	if !b.Enabled() {
		return
	}
	info, err := os.Stat(path)
	switch {
	case err != nil:
		b.Recordf(tag, "%s missing (%v)", path, err)
	case info.IsDir():
		b.Recordf(tag, "%s dir", path)
	default:
		b.Recordf(tag, "%s file size=%d", path, info.Size())
	}
}

// Export publishes the log path in EnvBootLog so that bootstrap helpers
// append to the same file. No-op when disabled.
func (b *BootLog) Export() {
	if !b.Enabled() {
		return
	}
	_ = os.Setenv(EnvBootLog, b.path)
}
