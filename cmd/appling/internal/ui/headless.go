// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ui

import (
	"context"
	"fmt"
	"sync"
)

// DefaultHeadlessScreen is the main screen reported by HeadlessToolkit.
var DefaultHeadlessScreen = Rect{Width: 1920, Height: 1080}

// EventKind names a recorded toolkit event.
type EventKind string

const (
	EventOpen     EventKind = "open"
	EventTitle    EventKind = "title"
	EventActivate EventKind = "activate"
	EventClose    EventKind = "close"
	EventQuit     EventKind = "quit"
)

// Event is one recorded toolkit call.
type Event struct {
	Kind   EventKind
	Detail string
}

// HeadlessToolkit runs a loop with no output.
//
// # Description
//
// The loop is a channel of functions served on the goroutine that called
// Run. Window calls are recorded as Events so tests and CI can assert
// on the splash lifecycle.
type HeadlessToolkit struct {
	// Screen is the main screen. Default: DefaultHeadlessScreen.
	Screen Rect

	mu     sync.Mutex
	events []Event
}

// NewHeadlessToolkit creates a HeadlessToolkit with the default screen.
func NewHeadlessToolkit() *HeadlessToolkit {
	return &HeadlessToolkit{Screen: DefaultHeadlessScreen}
}

// Events returns a copy of the recorded events.
func (t *HeadlessToolkit) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event(nil), t.events...)
}

// Count returns how many events of kind were recorded.
func (t *HeadlessToolkit) Count(kind EventKind) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (t *HeadlessToolkit) record(kind EventKind, detail string) {
	t.mu.Lock()
	t.events = append(t.events, Event{Kind: kind, Detail: detail})
	t.mu.Unlock()
}

// Run implements Toolkit.
func (t *HeadlessToolkit) Run(ctx context.Context, launch func(UI) error) error {
	h := &headlessUI{
		toolkit: t,
		tasks:   make(chan func(), 16),
		done:    make(chan struct{}),
	}
	if err := launch(h); err != nil {
		h.Quit()
		return err
	}
	for {
		select {
		case fn := <-h.tasks:
			fn()
		case <-h.done:
			return nil
		case <-ctx.Done():
			h.Quit()
			return ctx.Err()
		}
	}
}

type headlessUI struct {
	toolkit *HeadlessToolkit

	tasks    chan func()
	done     chan struct{}
	quitOnce sync.Once
}

func (h *headlessUI) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *headlessUI) MainScreen() (Rect, error) {
	screen := h.toolkit.Screen
	if screen.Width == 0 || screen.Height == 0 {
		screen = DefaultHeadlessScreen
	}
	return screen, nil
}

func (h *headlessUI) OpenWindow(ws WindowSpec) (Window, error) {
	if h.closed() {
		return nil, ErrClosed
	}
	b := ws.Bounds
	h.toolkit.record(EventOpen, fmt.Sprintf("%d,%d %dx%d frameless=%t image=%t",
		b.X, b.Y, b.Width, b.Height, ws.Frameless, ws.Image != nil))
	return &headlessWindow{toolkit: h.toolkit}, nil
}

func (h *headlessUI) Dispatch(fn func()) error {
	if h.closed() {
		return ErrClosed
	}
	select {
	case <-h.done:
		return ErrClosed
	case h.tasks <- fn:
		return nil
	}
}

func (h *headlessUI) Quit() {
	h.quitOnce.Do(func() {
		h.toolkit.record(EventQuit, "")
		close(h.done)
	})
}

type headlessWindow struct {
	toolkit *HeadlessToolkit
	closed  bool
}

func (w *headlessWindow) SetTitle(title string) error {
	if w.closed {
		return ErrClosed
	}
	w.toolkit.record(EventTitle, title)
	return nil
}

func (w *headlessWindow) Activate() error {
	if w.closed {
		return ErrClosed
	}
	w.toolkit.record(EventActivate, "")
	return nil
}

func (w *headlessWindow) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.toolkit.record(EventClose, "")
	return nil
}
