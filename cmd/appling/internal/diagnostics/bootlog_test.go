// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnostics

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/appling/pkg/clock"
)

func TestBootLog_RecordFormat(t *testing.T) {
	root := t.TempDir()
	c := clock.Fake(time.Unix(0, 1234))
	log := NewBootLog(root, true, c)

	log.Record("launch", "start")
	c.Advance(time.Nanosecond)
	log.Recordf("resolve", "status=%d", -2)

	data, err := os.ReadFile(filepath.Join(root, BootLogFileName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	want := "[1234] launch: start\n[1235] resolve: status=-2\n"
	if string(data) != want {
		t.Errorf("log content = %q, want %q", data, want)
	}
}

func TestBootLog_AppendsAcrossInstances(t *testing.T) {
	root := t.TempDir()
	NewBootLog(root, true, nil).Record("a", "1")
	NewBootLog(root, true, nil).Record("b", "2")

	data, _ := os.ReadFile(filepath.Join(root, BootLogFileName))
	if got := strings.Count(string(data), "\n"); got != 2 {
		t.Errorf("expected 2 lines, got %d: %q", got, data)
	}
}

func TestBootLog_Disabled(t *testing.T) {
	root := t.TempDir()
	log := NewBootLog(root, false, nil)
	log.Record("launch", "x")
	log.Stat("platform-path", root)

	if _, err := os.Stat(filepath.Join(root, BootLogFileName)); !os.IsNotExist(err) {
		t.Errorf("disabled log created a file: %v", err)
	}
}

func TestBootLog_WriteFailureIsSilent(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}
	log := NewBootLog(filepath.Join(blocker, "root"), true, nil)
	log.Record("launch", "cannot be written")
}

func TestBootLog_Stat(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "entry")
	if err := os.WriteFile(file, []byte("12345"), 0644); err != nil {
		t.Fatal(err)
	}
	log := NewBootLog(root, true, nil)
	log.Stat("platform-path", root)
	log.Stat("platform-entry", file)
	log.Stat("platform-entry", filepath.Join(root, "missing"))

	data, _ := os.ReadFile(log.Path())
	out := string(data)
	for _, want := range []string{"platform-path: " + root + " dir", "file size=5", "missing ("} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

func TestBootLog_ConcurrentLinesDoNotInterleave(t *testing.T) {
	root := t.TempDir()
	log := NewBootLog(root, true, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Record("bootstrap", strings.Repeat("x", 200))
		}()
	}
	wg.Wait()

	data, _ := os.ReadFile(log.Path())
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 16 {
		t.Fatalf("expected 16 lines, got %d", len(lines))
	}
	for _, l := range lines {
		if !strings.HasSuffix(l, "bootstrap: "+strings.Repeat("x", 200)) {
			t.Errorf("corrupted line %q", l)
		}
	}
}

func TestBootLog_Export(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvBootLog, "")
	NewBootLog(root, true, nil).Export()
	if got := os.Getenv(EnvBootLog); got != filepath.Join(root, BootLogFileName) {
		t.Errorf("%s = %q", EnvBootLog, got)
	}
}

func TestBootLogMode_Enabled(t *testing.T) {
	if !BootLogAuto.Enabled("windows") || BootLogAuto.Enabled("linux") {
		t.Error("auto should enable on windows only")
	}
	if !BootLogAlways.Enabled("linux") {
		t.Error("always should enable everywhere")
	}
	if BootLogNever.Enabled("windows") {
		t.Error("never should disable everywhere")
	}
}
