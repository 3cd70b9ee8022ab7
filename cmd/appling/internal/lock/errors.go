// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock provides the single-instance exclusivity lock held by the
// launcher for the whole resolve/bootstrap/preflight sequence.
//
// The lock is an advisory OS file lock on <root>/lock: flock(2) on Unix,
// LockFileEx on Windows. Every Acquire opens its own descriptor, so two
// acquisitions inside one process exclude each other exactly like two
// processes do. The holder writes its PID to <root>/lock.pid for
// diagnostics; waiters watch the directory and retry as soon as that file
// disappears.
package lock

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyRoot is returned when Acquire is called without a root.
	ErrEmptyRoot = errors.New("lock root is empty")

	// errWouldBlock is the platform-neutral "held by somebody else" result
	// of a non-blocking attempt. It never escapes Acquire.
	errWouldBlock = errors.New("lock is held")
)

// Error describes an unrecoverable lock failure.
//
// The launcher treats every Error as fatal; waiting for a busy lock is
// not an error.
type Error struct {
	// Op is the failed step: "mkdir", "open", "lock", "unlock" or "close".
	Op string

	// Path is the lock file path.
	Path string

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("lock %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
