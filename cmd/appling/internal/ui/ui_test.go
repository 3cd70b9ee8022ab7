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
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRect_Center(t *testing.T) {
	screen := Rect{Width: 1920, Height: 1080}
	assert.Equal(t, Rect{X: 760, Y: 340, Width: 400, Height: 400}, screen.Center(400, 400))

	offset := Rect{X: 100, Y: 50, Width: 400, Height: 400}
	assert.Equal(t, Rect{X: 100, Y: 50, Width: 400, Height: 400}, offset.Center(400, 400))
}

// =============================================================================
// Headless
// =============================================================================

func TestHeadless_RunsLaunchAndDispatchOnLoop(t *testing.T) {
	tk := NewHeadlessToolkit()

	var mu sync.Mutex
	var order []string
	add := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	err := tk.Run(context.Background(), func(u UI) error {
		add("launch")
		go func() {
			assert.NoError(t, u.Dispatch(func() { add("first") }))
			assert.NoError(t, u.Dispatch(func() {
				add("second")
				u.Quit()
			}))
		}()
		return nil
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"launch", "first", "second"}, order)
	assert.Equal(t, 1, tk.Count(EventQuit))
}

func TestHeadless_WindowLifecycle(t *testing.T) {
	tk := NewHeadlessToolkit()
	err := tk.Run(context.Background(), func(u UI) error {
		screen, err := u.MainScreen()
		require.NoError(t, err)
		assert.Equal(t, DefaultHeadlessScreen, screen)

		w, err := u.OpenWindow(WindowSpec{Bounds: screen.Center(400, 400), Frameless: true})
		require.NoError(t, err)
		require.NoError(t, w.SetTitle("Installing app"))
		require.NoError(t, w.Activate())
		require.NoError(t, w.Close())
		require.NoError(t, w.Close(), "close is idempotent")
		assert.ErrorIs(t, w.SetTitle("again"), ErrClosed)
		u.Quit()
		return nil
	})
	require.NoError(t, err)

	events := tk.Events()
	require.Len(t, events, 5)
	assert.Equal(t, Event{Kind: EventOpen, Detail: "760,340 400x400 frameless=true image=false"}, events[0])
	assert.Equal(t, Event{Kind: EventTitle, Detail: "Installing app"}, events[1])
	assert.Equal(t, EventActivate, events[2].Kind)
	assert.Equal(t, EventClose, events[3].Kind)
	assert.Equal(t, EventQuit, events[4].Kind)
}

func TestHeadless_LaunchError(t *testing.T) {
	tk := NewHeadlessToolkit()
	boom := errors.New("boom")

	var handle UI
	err := tk.Run(context.Background(), func(u UI) error {
		handle = u
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, handle.Dispatch(func() {}), ErrClosed)
	_, err = handle.OpenWindow(WindowSpec{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHeadless_ContextCancel(t *testing.T) {
	tk := NewHeadlessToolkit()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- tk.Run(ctx, func(UI) error { return nil })
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// =============================================================================
// Terminal
// =============================================================================

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestRenderHalfBlocks(t *testing.T) {
	art := renderHalfBlocks(solid(64, 64, color.RGBA{R: 255, A: 255}), 40, 20)
	assert.Equal(t, 40*20, strings.Count(art, halfBlock))
	assert.Equal(t, 19, strings.Count(art, "\n"))

	assert.Empty(t, renderHalfBlocks(nil, 40, 20))
	assert.Empty(t, renderHalfBlocks(solid(4, 4, color.White), 0, 20))
	assert.Empty(t, renderHalfBlocks(image.NewRGBA(image.Rect(0, 0, 0, 0)), 4, 4))
}

func TestTermModel_LaunchAndDispatch(t *testing.T) {
	var launched bool
	m := newTermModel(func(u UI) error {
		launched = true
		return nil
	}, &bytes.Buffer{})

	_, cmd := m.Update(launchMsg{})
	assert.True(t, launched)
	assert.Nil(t, cmd)

	ran := false
	_, cmd = m.Update(dispatchMsg{fn: func() { ran = true }})
	assert.True(t, ran)
	assert.Nil(t, cmd)
}

func TestTermModel_QuitFromLoop(t *testing.T) {
	m := newTermModel(func(UI) error { return nil }, &bytes.Buffer{})

	_, cmd := m.Update(dispatchMsg{fn: m.ui.Quit})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.ErrorIs(t, m.ui.Dispatch(func() {}), ErrClosed)
}

func TestTermModel_LaunchErrorQuits(t *testing.T) {
	boom := errors.New("boom")
	m := newTermModel(func(UI) error { return boom }, &bytes.Buffer{})

	_, cmd := m.Update(launchMsg{})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.ErrorIs(t, m.launchErr, boom)
}

func TestTermModel_WindowView(t *testing.T) {
	m := newTermModel(func(UI) error { return nil }, &bytes.Buffer{})

	screen, err := m.ui.MainScreen()
	require.NoError(t, err)
	assert.Equal(t, Rect{Width: defaultCols * CellWidth, Height: defaultRows * CellHeight}, screen)

	m.Update(tea.WindowSizeMsg{Width: 100, Height: 50})
	screen, err = m.ui.MainScreen()
	require.NoError(t, err)
	assert.Equal(t, Rect{Width: 1000, Height: 1000}, screen)

	w, err := m.ui.OpenWindow(WindowSpec{
		Image:     solid(8, 8, color.White),
		Bounds:    screen.Center(400, 400),
		Frameless: true,
	})
	require.NoError(t, err)
	assert.Empty(t, m.View(), "inactive windows are not drawn")

	require.NoError(t, w.SetTitle("Installing app"))
	require.NoError(t, w.Activate())
	view := m.View()
	assert.Contains(t, view, "Installing app")
	assert.Equal(t, 40*20, strings.Count(view, halfBlock))

	require.NoError(t, w.Close())
	assert.Empty(t, m.View())
}

// =============================================================================
// Selection
// =============================================================================

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeAuto, "AUTO": ModeAuto, "terminal": ModeTerminal, " headless ": ModeHeadless} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("gtk")
	assert.Error(t, err)
}

func TestSelect(t *testing.T) {
	assert.IsType(t, &HeadlessToolkit{}, Select(ModeHeadless, os.Stderr))
	assert.IsType(t, &TerminalToolkit{}, Select(ModeTerminal, os.Stderr))
	assert.IsType(t, &HeadlessToolkit{}, Select(ModeAuto, nil))

	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer f.Close()
	assert.IsType(t, &HeadlessToolkit{}, Select(ModeAuto, f), "a regular file is not a terminal")
}
