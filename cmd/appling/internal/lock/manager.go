// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

const (
	// FileName is the lock file inside the platform root.
	FileName = "lock"

	// PIDFileName holds "pid=<n>\ntime=<rfc3339>\n" while the lock is held.
	PIDFileName = "lock.pid"

	// DefaultRetryInterval paces non-blocking attempts while waiting.
	DefaultRetryInterval = 250 * time.Millisecond
)

// Config configures a Manager.
type Config struct {
	// RetryInterval is the minimum spacing between lock attempts while
	// waiting. Default: DefaultRetryInterval.
	RetryInterval time.Duration

	// Logger receives "waiting for lock" notices. Default: discard.
	Logger *slog.Logger
}

// Manager acquires the platform root lock.
//
// # Thread Safety
//
// Manager is stateless after construction and safe for concurrent use.
// Each Acquire produces an independent Guard.
type Manager struct {
	locker   fileLocker
	interval time.Duration
	logger   *slog.Logger
}

// NewManager creates a Manager for the current platform.
func NewManager(cfg Config) *Manager {
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		locker:   newPlatformLocker(),
		interval: interval,
		logger:   logger,
	}
}

// Acquire blocks until the caller holds the exclusive lock on root.
//
// # Description
//
// Creates root if needed, opens <root>/lock and retries a non-blocking
// lock attempt until it succeeds. Attempts are paced by a rate limiter;
// a removal of the holder's PID file wakes the waiter early. Waiting
// never times out on its own, only ctx can abort it.
//
// # Inputs
//
//   - ctx: cancellation for the wait
//   - root: platform root directory
//
// # Outputs
//
//   - *Guard: held lock; call Release exactly where the scope ends
//   - error: ErrEmptyRoot, ctx.Err(), or *Error for I/O failures
//
// # Example
//
//	guard, err := mgr.Acquire(ctx, root)
//	if err != nil {
//	    return err
//	}
//	defer guard.Release()
func (m *Manager) Acquire(ctx context.Context, root string) (*Guard, error) {
	if root == "" {
		return nil, ErrEmptyRoot
	}
	path := filepath.Join(root, FileName)

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, &Error{Op: "mkdir", Path: path, Err: err}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, &Error{Op: "open", Path: path, Err: err}
	}

	if err := m.wait(ctx, file, root); err != nil {
		file.Close()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &Error{Op: "lock", Path: path, Err: err}
	}

	g := &Guard{
		path:    path,
		pidPath: filepath.Join(root, PIDFileName),
		file:    file,
		locker:  m.locker,
	}
	g.writePID()
	return g, nil
}

// wait loops until tryLock succeeds or fails for real.
func (m *Manager) wait(ctx context.Context, file *os.File, root string) error {
	err := m.locker.tryLock(file)
	if !errors.Is(err, errWouldBlock) {
		return err
	}

	m.logger.Info("waiting for platform lock", "root", root, "holder_pid", HolderPID(root))

	// The watcher is a hint only. Polling still works without it.
	var events <-chan fsnotify.Event
	if watcher, werr := fsnotify.NewWatcher(); werr == nil {
		defer watcher.Close()
		if watcher.Add(root) == nil {
			events = watcher.Events
		}
	}

	limiter := rate.NewLimiter(rate.Every(m.interval), 1)
	for {
		r := limiter.Reserve()
		timer := time.NewTimer(r.Delay())
		select {
		case <-ctx.Done():
			timer.Stop()
			r.Cancel()
			return ctx.Err()
		case ev, ok := <-events:
			timer.Stop()
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != PIDFileName || !ev.Has(fsnotify.Remove) {
				continue
			}
		case <-timer.C:
		}

		err := m.locker.tryLock(file)
		if !errors.Is(err, errWouldBlock) {
			return err
		}
	}
}

// Guard is a held lock. Release is idempotent and must be reached on
// every path out of the scope that acquired it.
//
// # Thread Safety
//
// Release may be called concurrently; the lock is released exactly once
// and every caller receives the same result.
type Guard struct {
	path    string
	pidPath string
	file    *os.File
	locker  fileLocker

	once     sync.Once
	err      error
	released bool
	mu       sync.Mutex
}

// Path returns the lock file path.
func (g *Guard) Path() string {
	return g.path
}

// Held reports whether Release has not been called yet.
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.released
}

// Release drops the lock and closes the descriptor.
//
// The lock file itself is left in place; unlinking it would let a
// waiter lock an inode nobody else can see.
func (g *Guard) Release() error {
	g.once.Do(func() {
		_ = os.Remove(g.pidPath)
		if err := g.locker.unlock(g.file); err != nil {
			g.err = &Error{Op: "unlock", Path: g.path, Err: err}
		}
		if err := g.file.Close(); err != nil && g.err == nil {
			g.err = &Error{Op: "close", Path: g.path, Err: err}
		}
		g.mu.Lock()
		g.released = true
		g.mu.Unlock()
	})
	return g.err
}

func (g *Guard) writePID() {
	content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	_ = os.WriteFile(g.pidPath, []byte(content), 0644)
}

// HolderPID returns the PID recorded by the current holder of root's
// lock, or 0 when none is recorded.
func HolderPID(root string) int {
	content, err := os.ReadFile(filepath.Join(root, PIDFileName))
	if err != nil {
		return 0
	}
	line, _, _ := strings.Cut(string(content), "\n")
	value, ok := strings.CutPrefix(line, "pid=")
	if !ok {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return pid
}
