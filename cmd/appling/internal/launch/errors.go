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

import "fmt"

// Stages named by FatalError.
const (
	StageLock      = "lock"
	StageSplash    = "splash"
	StageBootstrap = "bootstrap"
	StageResolve   = "resolve"
	StagePreflight = "preflight"
	StageRelease   = "release"
	StageLaunch    = "launch"
	StageRelaunch  = "relaunch"
	StageProtocol  = "protocol"
)

// FatalError ends a launch. The lock has already been released when the
// sequencer returns one.
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("launch failed at %s: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
