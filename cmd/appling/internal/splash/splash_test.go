// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package splash

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/appling/cmd/appling/internal/ui"
	"github.com/AleutianAI/appling/pkg/clock"
)

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{G: 255, A: 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestDefaultImagePath(t *testing.T) {
	exe := filepath.Join("/", "opt", "app", "a", "b", "bin", "myapp")

	tests := []struct {
		name    string
		goos    string
		flatpak bool
		want    string
	}{
		{"linux", "linux", false, filepath.Join(exe, "..", "..", "..", "splash.png")},
		{"linux flatpak", "linux", true, filepath.Join(exe, "..", "share", "myapp", "splash.png")},
		{"darwin", "darwin", false, filepath.Join(exe, "..", "..", "Resources", "splash.png")},
		{"windows", "windows", false, filepath.Join(exe, "..", "splash.png")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultImagePath(exe, tt.goos, tt.flatpak))
		})
	}
}

func runSplash(t *testing.T, cfg Config) *ui.HeadlessToolkit {
	t.Helper()
	tk := ui.NewHeadlessToolkit()
	ctrl := NewController(cfg)

	err := tk.Run(context.Background(), func(u ui.UI) error {
		assert.ErrorIs(t, ctrl.Close(), ErrNotOpen)
		if err := ctrl.Open(u); err != nil {
			return err
		}
		return u.Dispatch(func() {
			assert.NoError(t, ctrl.Close())
			assert.NoError(t, ctrl.Close(), "second close is a no-op")
		})
	})
	require.NoError(t, err)
	return tk
}

func TestController_OpenAndClose(t *testing.T) {
	img := filepath.Join(t.TempDir(), "splash.png")
	writePNG(t, img)

	tk := runSplash(t, Config{ImagePath: img})

	events := tk.Events()
	require.Len(t, events, 5)
	assert.Equal(t, ui.Event{Kind: ui.EventOpen, Detail: "760,340 400x400 frameless=true image=true"}, events[0])
	assert.Equal(t, ui.Event{Kind: ui.EventTitle, Detail: DefaultTitle}, events[1])
	assert.Equal(t, ui.EventActivate, events[2].Kind)
	assert.Equal(t, ui.EventClose, events[3].Kind)
	assert.Equal(t, ui.EventQuit, events[4].Kind)
}

func TestController_MissingImage(t *testing.T) {
	tk := runSplash(t, Config{ImagePath: filepath.Join(t.TempDir(), "missing.png"), Title: "Setting up"})

	events := tk.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, "760,340 400x400 frameless=true image=false", events[0].Detail)
	assert.Equal(t, "Setting up", events[1].Detail)
}

func TestController_DefaultImageNextToExe(t *testing.T) {
	ctrl := NewController(Config{ExePath: filepath.Join("/", "x", "bin", "app")})
	assert.Equal(t, "splash.png", filepath.Base(ctrl.ImagePath()))
}

func TestRemaining(t *testing.T) {
	start := time.Unix(0, 0)
	tests := []struct {
		elapsed time.Duration
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{120 * time.Millisecond, 4880 * time.Millisecond},
		{5 * time.Second, 0},
		{7 * time.Second, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Remaining(start.Add(tt.elapsed), start, DefaultMinimum), tt.elapsed.String())
	}
}

func TestWaitMinimum_FastBootstrap(t *testing.T) {
	start := time.Unix(100, 0)
	c := clock.Fake(start)
	c.Advance(120 * time.Millisecond)

	done := make(chan time.Duration, 1)
	go func() { done <- WaitMinimum(c, start, DefaultMinimum) }()

	c.WaitForWaiters(1)
	c.Advance(4880 * time.Millisecond)

	select {
	case slept := <-done:
		assert.Equal(t, 4880*time.Millisecond, slept)
		assert.GreaterOrEqual(t, c.Now().Sub(start), DefaultMinimum)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitMinimum did not return")
	}
}

func TestWaitMinimum_SlowBootstrap(t *testing.T) {
	start := time.Unix(100, 0)
	c := clock.Fake(start)
	c.Advance(7 * time.Second)

	assert.Equal(t, time.Duration(0), WaitMinimum(c, start, DefaultMinimum))
	assert.Equal(t, 0, c.Pending())
}
