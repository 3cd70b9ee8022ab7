// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/appling/cmd/appling/internal/lock"
)

const testAppID = "abababababababababababababababababababababababababababababababab"

// isolate points every path the launcher touches into a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "pear")
	t.Setenv("APPLING_PLATFORM_DIR", root)
	t.Setenv("APPLING_CONFIG", filepath.Join(t.TempDir(), "config.yaml"))
	t.Setenv(envAppID, testAppID)
	t.Setenv("APPLING_BOOTSTRAP_LOG_MODE", "always")
	for _, name := range []string{"APPLING_LOG_LEVEL", "APPLING_SPLASH_TOOLKIT", "APPLING_RESOLVER_FALLBACK",
		"APPLING_BOOTSTRAP_MIRROR", "APPLING_TRACES", "APPLING_METRICS", "APPLING_RELAUNCH"} {
		t.Setenv(name, "")
	}
	return root
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "appling dev ("), out)
}

func TestStatusCommand_EmptyRoot(t *testing.T) {
	root := isolate(t)

	out, err := execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "root:     "+root)
	assert.Contains(t, out, "lock:     free")
	assert.Contains(t, out, "platform: not installed")
	assert.Contains(t, out, "ready:    false")
	assert.Contains(t, out, "bootlog:  "+filepath.Join(root, "bootstrap.log"))
}

func TestStatusCommand_LockHeld(t *testing.T) {
	root := isolate(t)
	g, err := lock.NewManager(lock.Config{}).Acquire(context.Background(), root)
	require.NoError(t, err)
	defer g.Release()

	out, err := execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("lock:     held by pid %d", os.Getpid()))
}

func TestStatusCommand_BadConfig(t *testing.T) {
	isolate(t)
	t.Setenv("APPLING_SPLASH_TOOLKIT", "cocoa")

	_, err := execute(t, "status")
	assert.Error(t, err)
}

func TestLoadAppID(t *testing.T) {
	t.Setenv(envAppID, "")
	_, err := loadAppID()
	assert.Error(t, err)

	t.Setenv(envAppID, testAppID)
	id, err := loadAppID()
	require.NoError(t, err)
	assert.Equal(t, testAppID, id.String())

	t.Setenv(envAppID, "nothex")
	_, err = loadAppID()
	assert.Error(t, err)
}

func TestNewApp_WiresSequencer(t *testing.T) {
	root := isolate(t)
	t.Setenv("APPLING_SPLASH_TOOLKIT", "headless")

	a, err := newApp(context.Background(), "linux")
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, root, a.root)
	assert.Equal(t, "index", a.resolver.PrimaryName())
	assert.False(t, a.resolver.FallbackEnabled(), "auto fallback is windows only")
	seq, err := a.sequencer()
	require.NoError(t, err)
	assert.NotNil(t, seq.Machine())

	w, err := newApp(context.Background(), "windows")
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, "scan", w.resolver.PrimaryName(), "windows cannot read the index")
	assert.False(t, w.resolver.FallbackEnabled())
}
