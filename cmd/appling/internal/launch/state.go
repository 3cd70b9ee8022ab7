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
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned for an event the current state does
// not accept. It is a programming error, never a runtime condition.
var ErrInvalidTransition = errors.New("invalid launch transition")

// State is a step of the launch protocol.
type State int

const (
	StateInit State = iota
	StateAcquiringLock
	StateResolvingPre
	StateCheckingReady
	StateNeedsBootstrap
	StateBootstrapping
	StateResolvingPost
	StatePreflight
	StateReleasingLock
	StateCloseSplash
	StateRelaunch
	StateUnlockAndLaunch
	StateTerminal
)

var stateNames = [...]string{
	StateInit:            "INIT",
	StateAcquiringLock:   "ACQUIRING_LOCK",
	StateResolvingPre:    "RESOLVING_PRE",
	StateCheckingReady:   "CHECKING_READY",
	StateNeedsBootstrap:  "NEEDS_BOOTSTRAP",
	StateBootstrapping:   "BOOTSTRAPPING",
	StateResolvingPost:   "RESOLVING_POST",
	StatePreflight:       "PREFLIGHT",
	StateReleasingLock:   "RELEASING_LOCK",
	StateCloseSplash:     "CLOSE_SPLASH",
	StateRelaunch:        "RELAUNCH",
	StateUnlockAndLaunch: "UNLOCK_AND_LAUNCH",
	StateTerminal:        "TERMINAL",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Event is the result of executing a Command.
type Event int

const (
	EventStart Event = iota
	EventLockAcquired
	EventLockFailed
	EventResolved
	EventNotFound
	EventResolveFailed
	EventReady
	EventNotReady
	EventBootstrapStarted
	EventBootstrapSkipped
	EventBootstrapSucceeded
	EventBootstrapFailed
	EventPreflightOK
	EventPreflightFailed
	EventReleased
	EventSplashClosed
	EventRelaunched
	EventLaunched
	EventLaunchFailed

	// EventAbort ends a failed bootstrap path after cleanup.
	EventAbort

	// EventFatal reports an unexpected failure while the lock is held.
	EventFatal
)

var eventNames = [...]string{
	EventStart:              "start",
	EventLockAcquired:       "lock-acquired",
	EventLockFailed:         "lock-failed",
	EventResolved:           "resolved",
	EventNotFound:           "not-found",
	EventResolveFailed:      "resolve-failed",
	EventReady:              "ready",
	EventNotReady:           "not-ready",
	EventBootstrapStarted:   "bootstrap-started",
	EventBootstrapSkipped:   "bootstrap-skipped",
	EventBootstrapSucceeded: "bootstrap-succeeded",
	EventBootstrapFailed:    "bootstrap-failed",
	EventPreflightOK:        "preflight-ok",
	EventPreflightFailed:    "preflight-failed",
	EventReleased:           "released",
	EventSplashClosed:       "splash-closed",
	EventRelaunched:         "relaunched",
	EventLaunched:           "launched",
	EventLaunchFailed:       "launch-failed",
	EventAbort:              "abort",
	EventFatal:              "fatal",
}

func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// Command is the side effect the sequencer performs on entering a state.
type Command int

const (
	CommandNone Command = iota
	CommandAcquireLock
	CommandResolve
	CommandCheckReady
	CommandStartBootstrap
	CommandBootstrap
	CommandPreflight
	CommandWaitAndRelease
	CommandRelease
	CommandCloseSplash
	CommandRelaunch
	CommandUnlockAndLaunch
)

var commandNames = [...]string{
	CommandNone:            "none",
	CommandAcquireLock:     "acquire-lock",
	CommandResolve:         "resolve",
	CommandCheckReady:      "check-ready",
	CommandStartBootstrap:  "start-bootstrap",
	CommandBootstrap:       "bootstrap",
	CommandPreflight:       "preflight",
	CommandWaitAndRelease:  "wait-and-release",
	CommandRelease:         "release",
	CommandCloseSplash:     "close-splash",
	CommandRelaunch:        "relaunch",
	CommandUnlockAndLaunch: "unlock-and-launch",
}

func (c Command) String() string {
	if c >= 0 && int(c) < len(commandNames) {
		return commandNames[c]
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

type edge struct {
	from  State
	event Event
}

type target struct {
	to      State
	command Command
}

var transitions = map[edge]target{
	{StateInit, EventStart}: {StateAcquiringLock, CommandAcquireLock},

	{StateAcquiringLock, EventLockAcquired}: {StateResolvingPre, CommandResolve},
	{StateAcquiringLock, EventLockFailed}:   {StateTerminal, CommandNone},

	{StateResolvingPre, EventResolved}:      {StateCheckingReady, CommandCheckReady},
	{StateResolvingPre, EventNotFound}:      {StateNeedsBootstrap, CommandStartBootstrap},
	{StateResolvingPre, EventResolveFailed}: {StateNeedsBootstrap, CommandStartBootstrap},

	{StateCheckingReady, EventReady}:    {StateUnlockAndLaunch, CommandUnlockAndLaunch},
	{StateCheckingReady, EventNotReady}: {StateNeedsBootstrap, CommandStartBootstrap},

	{StateNeedsBootstrap, EventBootstrapStarted}: {StateBootstrapping, CommandBootstrap},
	{StateNeedsBootstrap, EventBootstrapSkipped}: {StateResolvingPost, CommandResolve},
	{StateNeedsBootstrap, EventFatal}:            {StateReleasingLock, CommandRelease},

	{StateBootstrapping, EventBootstrapSucceeded}: {StateResolvingPost, CommandResolve},
	{StateBootstrapping, EventBootstrapFailed}:    {StateReleasingLock, CommandRelease},

	{StateResolvingPost, EventResolved}:      {StatePreflight, CommandPreflight},
	{StateResolvingPost, EventNotFound}:      {StateReleasingLock, CommandRelease},
	{StateResolvingPost, EventResolveFailed}: {StateReleasingLock, CommandRelease},

	{StatePreflight, EventPreflightOK}:     {StateReleasingLock, CommandWaitAndRelease},
	{StatePreflight, EventPreflightFailed}: {StateReleasingLock, CommandRelease},

	{StateReleasingLock, EventReleased}: {StateCloseSplash, CommandCloseSplash},

	{StateCloseSplash, EventSplashClosed}: {StateRelaunch, CommandRelaunch},
	{StateCloseSplash, EventAbort}:        {StateTerminal, CommandNone},

	{StateRelaunch, EventRelaunched}:   {StateTerminal, CommandNone},
	{StateRelaunch, EventLaunchFailed}: {StateTerminal, CommandNone},

	{StateUnlockAndLaunch, EventLaunched}:     {StateTerminal, CommandNone},
	{StateUnlockAndLaunch, EventLaunchFailed}: {StateTerminal, CommandNone},
}

// Next is the launch transition function.
//
// # Description
//
// Returns the state entered when event happens in from, and the command
// to execute on entering it. Terminal accepts no events.
//
// # Outputs
//
//   - State: next state (from on error)
//   - Command: side effect to run (CommandNone when entering Terminal)
//   - error: ErrInvalidTransition (wrapped) when from does not accept event
func Next(from State, event Event) (State, Command, error) {
	t, ok := transitions[edge{from, event}]
	if !ok {
		return from, CommandNone, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, event, from)
	}
	return t.to, t.command, nil
}

// Transition is one step taken by a Machine.
type Transition struct {
	From    State
	Event   Event
	To      State
	Command Command
}

// Machine applies Next to a current state.
//
// # Thread Safety
//
// Safe for concurrent use. The primary goroutine and the bootstrap
// worker drive the same Machine, one at a time.
type Machine struct {
	mu      sync.Mutex
	state   State
	history []Transition
}

// NewMachine returns a Machine in StateInit.
func NewMachine() *Machine {
	return &Machine{state: StateInit}
}

// Fire applies event. On error the state is unchanged.
func (m *Machine) Fire(event Event) (State, Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	to, cmd, err := Next(m.state, event)
	if err != nil {
		return m.state, CommandNone, err
	}
	m.history = append(m.history, Transition{From: m.state, Event: event, To: to, Command: cmd})
	m.state = to
	return to, cmd, nil
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns a copy of every transition taken.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.history...)
}

// Path returns the states visited, starting with StateInit.
func (m *Machine) Path() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	path := []State{StateInit}
	for _, t := range m.history {
		path = append(path, t.To)
	}
	return path
}
