// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ui is the windowing collaborator of the launcher.
//
// A Toolkit owns the primary-context event loop. The launcher hands it a
// launch callback that runs once on the loop; from then on the loop only
// runs functions posted with Dispatch until Quit is called.
//
// Two toolkits exist: TerminalToolkit draws the splash in the terminal
// with bubbletea, HeadlessToolkit draws nothing and records what would
// have been drawn.
//
// # Thread Safety
//
// MainScreen, OpenWindow and every Window method must be called on the
// loop (inside launch or a dispatched function). Dispatch and Quit are
// safe from any goroutine.
package ui

import (
	"context"
	"errors"
	"image"
)

// ErrClosed is returned by Dispatch and OpenWindow after the loop quit.
var ErrClosed = errors.New("ui loop closed")

// Rect is a rectangle in logical units.
type Rect struct {
	X, Y          int
	Width, Height int
}

// Center returns a w x h rectangle centered in r.
func (r Rect) Center(w, h int) Rect {
	return Rect{
		X:      r.X + (r.Width-w)/2,
		Y:      r.Y + (r.Height-h)/2,
		Width:  w,
		Height: h,
	}
}

// WindowSpec describes a window to open.
type WindowSpec struct {
	// Image is drawn to fill the window. Nil opens an empty window.
	Image image.Image

	Bounds    Rect
	Frameless bool
}

// Window is an open window.
type Window interface {
	SetTitle(title string) error
	Activate() error

	// Close is idempotent.
	Close() error
}

// UI is the handle a running Toolkit passes to the launch callback.
type UI interface {
	MainScreen() (Rect, error)
	OpenWindow(ws WindowSpec) (Window, error)

	// Dispatch runs fn on the loop. It does not wait for fn to run.
	Dispatch(fn func()) error

	// Quit ends the loop. Run returns once the current function returns.
	Quit()
}

// Toolkit runs a primary-context event loop.
type Toolkit interface {
	// Run blocks the calling goroutine in the loop. launch runs once on
	// the loop; a launch error quits the loop and is returned by Run.
	Run(ctx context.Context, launch func(UI) error) error
}
