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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/appling/cmd/appling/internal/bootstrap"
	"github.com/AleutianAI/appling/cmd/appling/internal/identity"
	"github.com/AleutianAI/appling/cmd/appling/internal/lock"
	"github.com/AleutianAI/appling/cmd/appling/internal/platform"
)

// Session is the state of one launch attempt.
//
// # Description
//
// The sequencer owns the Session. The bootstrap worker reads Platform and
// writes Start, Outcome and the fatal error while the primary goroutine
// is parked in the UI loop; the mutex covers the fields both sides touch.
type Session struct {
	// ID correlates log lines and spans of one launch.
	ID string

	Identity identity.Identity
	Link     identity.Link

	// RawLink is argv[1] when it was accepted as the link, else empty.
	RawLink string

	Platform *platform.Descriptor
	Guard    *lock.Guard

	mu             sync.Mutex
	start          time.Time
	outcome        bootstrap.Outcome
	needsBootstrap bool
	needsSet       bool
	err            error
	splashOpened   bool
}

func newSession(ident identity.Identity, argv []string, d *platform.Descriptor) *Session {
	link, fromArgs := identity.FromArgs(argv, ident)
	s := &Session{
		ID:       uuid.NewString(),
		Identity: ident,
		Link:     link,
		Platform: d,
	}
	if fromArgs {
		s.RawLink = argv[1]
	}
	return s
}

// SetNeedsBootstrap records whether bootstrap must run. Only the first
// call has an effect; it reports whether this call set the flag.
func (s *Session) SetNeedsBootstrap(v bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.needsSet {
		return false
	}
	s.needsBootstrap, s.needsSet = v, true
	return true
}

// NeedsBootstrap returns the recorded flag.
func (s *Session) NeedsBootstrap() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsBootstrap
}

// Start returns when the bootstrap worker began. Zero on the direct
// launch path.
func (s *Session) Start() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start
}

func (s *Session) setStart(t time.Time) {
	s.mu.Lock()
	s.start = t
	s.mu.Unlock()
}

// Outcome returns the bootstrap outcome. Zero when bootstrap did not run.
func (s *Session) Outcome() bootstrap.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

func (s *Session) setOutcome(o bootstrap.Outcome) {
	s.mu.Lock()
	s.outcome = o
	s.mu.Unlock()
}

// SplashOpened reports whether the splash window was shown.
func (s *Session) SplashOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.splashOpened
}

func (s *Session) markSplashOpened() {
	s.mu.Lock()
	s.splashOpened = true
	s.mu.Unlock()
}

// Err returns the first fatal error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// fail records err as fatal unless an earlier error was recorded.
func (s *Session) fail(stage string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = &FatalError{Stage: stage, Err: err}
	}
}

func (s *Session) failed() bool {
	return s.Err() != nil
}
