// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package launch is the launch sequencer: it takes the launcher from
// process start to either a direct application launch or a completed
// bootstrap followed by a relaunch.
//
// # Description
//
// The protocol is the state machine in state.go. The Sequencer executes
// the Command returned by each transition and feeds the resulting Event
// back. Two goroutines drive it:
//
//   - the primary goroutine, which acquires the lock, resolves, checks
//     readiness, runs the UI loop while bootstrapping, and relaunches
//   - the bootstrap worker, started from inside the UI loop, which runs
//     bootstrap, resolves again, preflights, waits out the splash
//     minimum, releases the lock and asks the UI loop to close the splash
//
// Only one of them drives the machine at a time. The primary goroutine
// joins the worker before it continues.
//
// # Lock Discipline
//
// The lock is acquired before the first resolution and released exactly
// once on every path. The normal paths release it explicitly; a deferred
// release in Run covers anything else.
package launch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/appling/cmd/appling/internal/bootstrap"
	"github.com/AleutianAI/appling/cmd/appling/internal/diagnostics"
	"github.com/AleutianAI/appling/cmd/appling/internal/identity"
	"github.com/AleutianAI/appling/cmd/appling/internal/lock"
	"github.com/AleutianAI/appling/cmd/appling/internal/platform"
	"github.com/AleutianAI/appling/cmd/appling/internal/readiness"
	"github.com/AleutianAI/appling/cmd/appling/internal/splash"
	"github.com/AleutianAI/appling/cmd/appling/internal/ui"
	"github.com/AleutianAI/appling/pkg/clock"
	"github.com/AleutianAI/appling/pkg/logging"
)

// ErrAlreadyRun is returned when Run is called twice on a Sequencer.
var ErrAlreadyRun = errors.New("launch sequencer already run")

// Locker acquires the platform root lock.
type Locker interface {
	Acquire(ctx context.Context, root string) (*lock.Guard, error)
}

// Resolver fills in the platform path of a descriptor.
type Resolver interface {
	Resolve(ctx context.Context, d *platform.Descriptor) error
}

// Readiness checks a resolved platform.
type Readiness interface {
	IsReady(ctx context.Context, d *platform.Descriptor, link identity.Link) (bool, error)
	Preflight(ctx context.Context, d *platform.Descriptor, link identity.Link, app identity.Identity) error
}

// BootstrapRunner runs bootstrap once.
type BootstrapRunner interface {
	Run(ctx context.Context, key [platform.KeySize]byte, root string) bootstrap.Outcome
}

// Launch outcomes reported to telemetry.
const (
	OutcomeDirect    = "direct"
	OutcomeBootstrap = "bootstrap"
	OutcomeFailed    = "failed"
)

// Config wires a Sequencer.
type Config struct {
	Identity identity.Identity

	// Name is passed to the runtime as --name.
	Name string

	// Root is the platform root: lock scope, resolution base and
	// bootstrap target.
	Root string

	// Platform is resolved in place. Default: platform.Default().
	Platform *platform.Descriptor

	Locker    Locker
	Resolver  Resolver
	Readiness Readiness
	Bootstrap BootstrapRunner
	Launcher  Launcher
	Toolkit   ui.Toolkit

	// Splash configures the splash window. Its Logger defaults to Logger.
	Splash splash.Config

	// SplashMinimum is the minimum time between the worker starting and
	// the splash closing. Default: splash.DefaultMinimum.
	SplashMinimum time.Duration

	// Relaunch restarts the launcher after a successful bootstrap.
	Relaunch bool

	Clock     clock.Clock
	Logger    *logging.Logger
	BootLog   *diagnostics.BootLog
	Telemetry *diagnostics.Telemetry
}

// Sequencer runs the launch protocol once.
type Sequencer struct {
	cfg     Config
	machine *Machine
}

// NewSequencer validates cfg and creates a Sequencer.
func NewSequencer(cfg Config) (*Sequencer, error) {
	switch {
	case cfg.Root == "":
		return nil, errors.New("launch: platform root is required")
	case cfg.Locker == nil, cfg.Resolver == nil, cfg.Readiness == nil,
		cfg.Bootstrap == nil, cfg.Launcher == nil, cfg.Toolkit == nil:
		return nil, errors.New("launch: locker, resolver, readiness, bootstrap, launcher and toolkit are required")
	}
	if cfg.Platform == nil {
		cfg.Platform = platform.Default()
	}
	if cfg.SplashMinimum <= 0 {
		cfg.SplashMinimum = splash.DefaultMinimum
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = diagnostics.Noop()
	}
	if cfg.Splash.ExePath == "" {
		cfg.Splash.ExePath = cfg.Identity.ExePath
	}
	if cfg.Splash.Logger == nil {
		cfg.Splash.Logger = cfg.Logger.Slog()
	}
	return &Sequencer{cfg: cfg, machine: NewMachine()}, nil
}

// Machine exposes the state machine for inspection.
func (s *Sequencer) Machine() *Machine {
	return s.machine
}

// run holds the per-invocation state shared by both goroutines.
type run struct {
	*Sequencer
	sess *Session
	log  *logging.Logger

	// Set on the primary goroutine before the worker starts.
	resolveFailed bool
	ready         bool
}

// Run executes the launch protocol.
//
// # Description
//
// Blocks until the protocol reaches its terminal state. On the bootstrap
// path the calling goroutine runs the UI loop, so Run must be called from
// the goroutine the toolkit expects (the main goroutine).
//
// # Inputs
//
//   - ctx: passed to every collaborator; bootstrap is not cancelled
//     through it by the sequencer itself
//   - argv: full process arguments; argv[1] may carry the link
//
// # Outputs
//
//   - *Session: the finished session
//   - error: a *FatalError, or nil for both successful paths
func (s *Sequencer) Run(ctx context.Context, argv []string) (*Session, error) {
	if s.machine.State() != StateInit {
		return nil, ErrAlreadyRun
	}
	sess := newSession(s.cfg.Identity, argv, s.cfg.Platform)
	r := &run{
		Sequencer: s,
		sess:      sess,
		log:       s.cfg.Logger.With("session_id", sess.ID),
	}

	defer func() {
		if sess.Guard != nil && sess.Guard.Held() {
			if err := sess.Guard.Release(); err != nil {
				r.log.Error("lock release failed", "error", err)
			}
		}
	}()

	r.log.Info("launch started", "root", s.cfg.Root, "link", sess.Link.String())
	s.cfg.BootLog.Record("launch", s.cfg.Root)

	if err := r.drive(ctx, EventStart, nil); err != nil {
		r.log.Error("launch protocol violated", "error", err, "state", s.machine.State().String())
	}

	outcome := OutcomeDirect
	switch {
	case sess.Err() != nil:
		outcome = OutcomeFailed
	case sess.SplashOpened():
		outcome = OutcomeBootstrap
	}
	s.cfg.Telemetry.RecordLaunch(ctx, outcome)
	r.log.Info("launch finished", "outcome", outcome)
	return sess, sess.Err()
}

// worker is the UI handle the bootstrap worker closes the splash with.
type worker struct {
	ui     ui.UI
	splash *splash.Controller
}

// drive fires ev and executes commands until the terminal state. On the
// worker (w != nil) it stops after posting the splash close.
func (r *run) drive(ctx context.Context, ev Event, w *worker) error {
	for {
		state, cmd, err := r.machine.Fire(ev)
		if err != nil {
			r.sess.fail(StageProtocol, err)
			if w != nil {
				r.closeSplash(w)
			}
			return err
		}
		if state == StateTerminal {
			return nil
		}

		switch {
		case cmd == CommandCloseSplash && w != nil:
			r.closeSplash(w)
			return nil
		case cmd == CommandStartBootstrap:
			ev, err = r.startBootstrap(ctx)
			if err != nil {
				return err
			}
		default:
			ev = r.exec(ctx, cmd)
		}
	}
}

func (r *run) exec(ctx context.Context, cmd Command) Event {
	ctx, span := r.cfg.Telemetry.StartPhase(ctx, cmd.String(), attribute.String("session_id", r.sess.ID))
	ev, err := r.do(ctx, cmd)
	diagnostics.EndPhase(span, err)
	r.log.Debug("launch step", "command", cmd.String(), "event", ev.String())
	return ev
}

func (r *run) do(ctx context.Context, cmd Command) (Event, error) {
	switch cmd {
	case CommandAcquireLock:
		return r.acquire(ctx)
	case CommandResolve:
		return r.resolve(ctx, r.machine.State() == StateResolvingPost)
	case CommandCheckReady:
		return r.checkReady(ctx)
	case CommandBootstrap:
		return r.bootstrap(ctx)
	case CommandPreflight:
		return r.preflight(ctx)
	case CommandWaitAndRelease:
		slept := splash.WaitMinimum(r.cfg.Clock, r.sess.Start(), r.cfg.SplashMinimum)
		r.log.Debug("splash minimum enforced", "slept_ms", slept.Milliseconds())
		return EventReleased, r.release()
	case CommandRelease:
		return EventReleased, r.release()
	case CommandCloseSplash:
		// The UI loop has already ended on this path.
		if r.sess.failed() {
			return EventAbort, nil
		}
		return EventSplashClosed, nil
	case CommandRelaunch:
		return r.relaunch(ctx)
	case CommandUnlockAndLaunch:
		return r.unlockAndLaunch(ctx)
	default:
		err := fmt.Errorf("no handler for command %s", cmd)
		r.sess.fail(StageProtocol, err)
		return EventFatal, err
	}
}

func (r *run) acquire(ctx context.Context) (Event, error) {
	guard, err := r.cfg.Locker.Acquire(ctx, r.cfg.Root)
	if err != nil {
		r.log.Fatal("lock acquisition failed", "root", r.cfg.Root, "error", err)
		r.sess.fail(StageLock, err)
		return EventLockFailed, err
	}
	r.sess.Guard = guard
	r.log.Info("lock acquired", "path", guard.Path())
	return EventLockAcquired, nil
}

func (r *run) resolve(ctx context.Context, post bool) (Event, error) {
	d := r.sess.Platform
	err := r.cfg.Resolver.Resolve(ctx, d)
	if post && err != nil {
		r.cfg.BootLog.Recordf("resolve", "status=%v", err)
	}
	if err == nil {
		path := d.MustPath()
		if post {
			r.cfg.BootLog.Stat("platform-path", path)
			r.cfg.BootLog.Stat("platform-entry", readiness.EntryPath(path))
		}
		r.log.Info("platform resolved", "path", path, "after_bootstrap", post)
		return EventResolved, nil
	}

	if post {
		r.log.Fatal("platform missing after bootstrap", "error", err)
		r.sess.fail(StageResolve, err)
	} else {
		r.resolveFailed = true
		r.log.Info("platform not resolved", "error", err)
	}
	if errors.Is(err, platform.ErrNotFound) {
		return EventNotFound, err
	}
	return EventResolveFailed, err
}

func (r *run) checkReady(ctx context.Context) (Event, error) {
	ready, err := r.cfg.Readiness.IsReady(ctx, r.sess.Platform, r.sess.Link)
	if err != nil {
		r.log.Warn("readiness check failed", "error", err)
		ready = false
	}
	r.ready = ready
	if !ready {
		if err != nil {
			r.cfg.BootLog.Recordf("ready", "ready=false (%v)", err)
		} else {
			r.cfg.BootLog.Record("ready", "ready=false")
		}
		return EventNotReady, err
	}
	return EventReady, nil
}

// startBootstrap runs the UI loop with the splash on the calling
// goroutine, starts the worker from inside it and joins the worker once
// the loop ends.
func (r *run) startBootstrap(ctx context.Context) (Event, error) {
	r.sess.SetNeedsBootstrap(r.resolveFailed || !r.ready)
	ctrl := splash.NewController(r.cfg.Splash)

	var g errgroup.Group
	runErr := r.cfg.Toolkit.Run(ctx, func(u ui.UI) error {
		if err := ctrl.Open(u); err != nil {
			return err
		}
		r.sess.markSplashOpened()

		first := EventBootstrapSkipped
		if r.sess.NeedsBootstrap() {
			first = EventBootstrapStarted
		}
		w := &worker{ui: u, splash: ctrl}
		g.Go(func() error {
			r.sess.setStart(r.cfg.Clock.Now())
			return r.drive(ctx, first, w)
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return EventFatal, err
	}

	if !r.sess.SplashOpened() {
		if runErr == nil {
			runErr = errors.New("ui loop ended before the splash opened")
		}
		r.log.Fatal("splash failed", "error", runErr)
		r.sess.fail(StageSplash, runErr)
		return EventFatal, nil
	}
	if runErr != nil {
		r.log.Warn("ui loop ended with error", "error", runErr)
	}
	if r.sess.failed() {
		return EventAbort, nil
	}
	return EventSplashClosed, nil
}

func (r *run) bootstrap(ctx context.Context) (Event, error) {
	r.cfg.BootLog.Export()

	d := r.sess.Platform
	// Once started, bootstrap runs to completion even if the launcher is
	// interrupted.
	out := r.cfg.Bootstrap.Run(context.WithoutCancel(ctx), d.Key, r.cfg.Root)
	r.sess.setOutcome(out)
	r.cfg.Telemetry.RecordBootstrap(ctx, out.Duration, out.Err == nil)

	if out.Err != nil {
		r.log.Fatal(out.Err.Error(), "phase", out.Phase.String())
		r.sess.fail(StageBootstrap, out.Err)
		return EventBootstrapFailed, out.Err
	}
	r.log.Info("bootstrap finished", "duration_ms", out.Duration.Milliseconds())
	return EventBootstrapSucceeded, nil
}

func (r *run) preflight(ctx context.Context) (Event, error) {
	if err := r.cfg.Readiness.Preflight(ctx, r.sess.Platform, r.sess.Link, r.sess.Identity); err != nil {
		r.log.Fatal("preflight failed", "error", err)
		r.sess.fail(StagePreflight, err)
		return EventPreflightFailed, err
	}
	return EventPreflightOK, nil
}

func (r *run) release() error {
	g := r.sess.Guard
	if g == nil || !g.Held() {
		return nil
	}
	if err := g.Release(); err != nil {
		r.log.Error("lock release failed", "error", err)
		r.sess.fail(StageRelease, err)
		return err
	}
	r.log.Info("lock released")
	return nil
}

// closeSplash posts the splash close to the UI loop. If the loop is gone
// it is told to quit so the primary goroutine is never left waiting.
func (r *run) closeSplash(w *worker) {
	err := w.ui.Dispatch(func() {
		if err := w.splash.Close(); err != nil {
			r.log.Warn("splash close failed", "error", err)
		}
	})
	if err != nil {
		r.log.Warn("splash close not dispatched", "error", err)
		w.ui.Quit()
	}
}

func (r *run) relaunch(ctx context.Context) (Event, error) {
	if !r.cfg.Relaunch {
		r.log.Info("relaunch disabled")
		return EventRelaunched, nil
	}
	if err := r.cfg.Launcher.Relaunch(ctx, r.sess.Identity, r.sess.RawLink); err != nil {
		r.log.Fatal("relaunch failed", "error", err)
		r.sess.fail(StageRelaunch, err)
		return EventLaunchFailed, err
	}
	return EventRelaunched, nil
}

func (r *run) unlockAndLaunch(ctx context.Context) (Event, error) {
	if err := r.release(); err != nil {
		return EventLaunchFailed, err
	}
	path := r.sess.Platform.MustPath()
	if err := r.cfg.Launcher.Launch(ctx, path, r.sess.Identity, r.sess.Link, r.cfg.Name); err != nil {
		r.cfg.BootLog.Recordf("launch-error", "launch=%v", err)
		r.log.Fatal("launch failed", "error", err)
		r.sess.fail(StageLaunch, err)
		return EventLaunchFailed, err
	}
	return EventLaunched, nil
}
