// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package splash shows the installer window while the platform is being
// bootstrapped.
//
// The Controller owns no launch logic. The sequencer opens it on the
// primary context, and closes it once bootstrap, preflight and the lock
// release are done. WaitMinimum enforces the minimum visible duration.
package splash

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/AleutianAI/appling/cmd/appling/internal/ui"
	"github.com/AleutianAI/appling/pkg/clock"
)

// Window geometry and defaults.
const (
	Size           = 400
	DefaultTitle   = "Installing app"
	DefaultMinimum = 5 * time.Second
)

// flatpakInfoPath exists inside a flatpak sandbox.
var flatpakInfoPath = "/.flatpak-info"

// ErrNotOpen is returned by Close when Open never succeeded.
var ErrNotOpen = errors.New("splash window not open")

// Config configures a Controller.
type Config struct {
	// ExePath is the launcher executable. The default image is located
	// relative to it.
	ExePath string

	// ImagePath overrides the default image location.
	ImagePath string

	// Title defaults to DefaultTitle.
	Title string

	Logger *slog.Logger
}

// Controller presents the splash window.
//
// # Thread Safety
//
// Open and Close must run on the UI loop.
type Controller struct {
	cfg    Config
	ui     ui.UI
	window ui.Window
	closed bool
}

// NewController creates a Controller.
func NewController(cfg Config) *Controller {
	if cfg.Title == "" {
		cfg.Title = DefaultTitle
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.ImagePath == "" {
		cfg.ImagePath = DefaultImagePath(cfg.ExePath, runtime.GOOS, isFlatpak())
	}
	return &Controller{cfg: cfg}
}

// ImagePath returns the image the controller loads.
func (c *Controller) ImagePath() string {
	return c.cfg.ImagePath
}

// Open creates a Size x Size frameless window centered on the main
// screen, titles it and activates it.
//
// # Description
//
// An image that cannot be loaded is logged and the window opens empty.
// Any toolkit failure is returned.
func (c *Controller) Open(u ui.UI) error {
	img, err := loadImage(c.cfg.ImagePath)
	if err != nil {
		c.cfg.Logger.Warn("splash image unavailable", "path", c.cfg.ImagePath, "error", err)
	}

	screen, err := u.MainScreen()
	if err != nil {
		return fmt.Errorf("query main screen: %w", err)
	}

	w, err := u.OpenWindow(ui.WindowSpec{
		Image:     img,
		Bounds:    screen.Center(Size, Size),
		Frameless: true,
	})
	if err != nil {
		return fmt.Errorf("open splash window: %w", err)
	}
	if err := w.SetTitle(c.cfg.Title); err != nil {
		w.Close()
		return fmt.Errorf("set splash title: %w", err)
	}
	if err := w.Activate(); err != nil {
		w.Close()
		return fmt.Errorf("activate splash window: %w", err)
	}

	c.ui, c.window = u, w
	c.cfg.Logger.Debug("splash opened", "image", c.cfg.ImagePath)
	return nil
}

// Close closes the window and quits the UI loop. Calling it again is a
// no-op.
func (c *Controller) Close() error {
	if c.window == nil {
		return ErrNotOpen
	}
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.window.Close()
	c.ui.Quit()
	return err
}

// DefaultImagePath returns where the installer image lives for goos,
// relative to the launcher executable.
func DefaultImagePath(exe, goos string, flatpak bool) string {
	var rel string
	switch goos {
	case "darwin":
		rel = "../../Resources/splash.png"
	case "windows":
		rel = "../splash.png"
	default:
		if flatpak {
			rel = "../share/" + filepath.Base(exe) + "/splash.png"
		} else {
			rel = "../../../splash.png"
		}
	}
	return filepath.Join(exe, filepath.FromSlash(rel))
}

func isFlatpak() bool {
	_, err := os.Stat(flatpakInfoPath)
	return err == nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Remaining returns how much longer the splash must stay up at now.
func Remaining(now, start time.Time, minimum time.Duration) time.Duration {
	if elapsed := now.Sub(start); elapsed < minimum {
		return minimum - elapsed
	}
	return 0
}

// WaitMinimum sleeps until minimum has passed since start and returns the
// time slept. It returns immediately when the minimum already passed.
func WaitMinimum(c clock.Clock, start time.Time, minimum time.Duration) time.Duration {
	d := Remaining(c.Now(), start, minimum)
	if d > 0 {
		c.Sleep(d)
	}
	return d
}
