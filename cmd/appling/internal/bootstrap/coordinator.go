// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/appling/cmd/appling/internal/platform"
	"github.com/AleutianAI/appling/pkg/clock"
)

// ErrAlreadyRun is returned when a Coordinator is asked to run twice.
var ErrAlreadyRun = errors.New("bootstrap already run")

// Phase is the lifecycle of one bootstrap call.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseRunning
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "NOT_STARTED"
	case PhaseRunning:
		return "RUNNING"
	case PhaseSucceeded:
		return "SUCCEEDED"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Outcome is the result of Coordinator.Run.
type Outcome struct {
	// Start is taken on the worker before anything else runs. The splash
	// minimum is measured from it.
	Start time.Time

	// Duration is the wall time of the bootstrap call alone.
	Duration time.Duration

	Phase Phase

	// Err is a *Error when Phase is PhaseFailed.
	Err error
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	Bootstrapper Bootstrapper
	NewEngine    EngineFactory
	Clock        clock.Clock
	Logger       *slog.Logger
	Recorder     platform.Recorder
}

// Coordinator runs bootstrap exactly once.
//
// # Thread Safety
//
// Run is meant for the worker goroutine; Phase may be read from any
// goroutine.
type Coordinator struct {
	bootstrapper Bootstrapper
	newEngine    EngineFactory
	clock        clock.Clock
	logger       *slog.Logger
	recorder     platform.Recorder

	mu    sync.Mutex
	phase Phase
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		bootstrapper: cfg.Bootstrapper,
		newEngine:    cfg.NewEngine,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		recorder:     cfg.Recorder,
	}
	if c.newEngine == nil {
		c.newEngine = HCLEngineFactory("")
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Coordinator) advance(from, to Phase) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != from {
		return false
	}
	c.phase = to
	return true
}

// Run creates a fresh Engine, bootstraps key into root and tears the
// engine down.
//
// # Description
//
// There is no retry and no timeout. ctx is passed through to the
// bootstrapper but the launcher never cancels it once bootstrap started.
//
// # Inputs
//
//   - ctx: passed to the engine and bootstrapper
//   - key: copy of the platform key
//   - root: platform root
//
// # Outputs
//
//   - Outcome: always populated, including Start when the run failed
func (c *Coordinator) Run(ctx context.Context, key [platform.KeySize]byte, root string) Outcome {
	out := Outcome{Start: c.clock.Now()}

	if !c.advance(PhaseNotStarted, PhaseRunning) {
		out.Phase = c.Phase()
		out.Err = &Error{Message: "bootstrap failed", Err: ErrAlreadyRun}
		return out
	}

	err := c.run(ctx, key, root)
	out.Duration = c.clock.Now().Sub(out.Start)

	if err != nil {
		var bErr *Error
		if !errors.As(err, &bErr) {
			err = &Error{Message: "bootstrap failed", Err: err}
		}
		c.advance(PhaseRunning, PhaseFailed)
		out.Phase = PhaseFailed
		out.Err = err
		c.record("bootstrap", "failed: "+err.Error())
		return out
	}

	c.advance(PhaseRunning, PhaseSucceeded)
	out.Phase = PhaseSucceeded
	c.record("bootstrap", "ok")
	return out
}

func (c *Coordinator) run(ctx context.Context, key [platform.KeySize]byte, root string) error {
	if c.bootstrapper == nil {
		return &Error{Message: "no bootstrapper configured"}
	}
	engine, err := c.newEngine()
	if err != nil {
		return failf(err, "create script engine")
	}
	defer func() {
		if cerr := engine.Close(); cerr != nil {
			c.logger.Warn("script engine close failed", "error", cerr)
		}
	}()

	c.logger.Info("bootstrap started", "root", root)
	return c.bootstrapper.Bootstrap(ctx, engine, key, root)
}

func (c *Coordinator) record(tag, detail string) {
	if c.recorder != nil {
		c.recorder.Record(tag, detail)
	}
}
