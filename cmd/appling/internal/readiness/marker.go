// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package readiness

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// EntryRelPath is the entry point that must exist in an installed
	// platform.
	EntryRelPath = "lib/boot.bundle"

	// RuntimeRelPath is the platform runtime, without the Windows suffix.
	RuntimeRelPath = "bin/pear-runtime"

	// MarkerFileName is the checkout marker written by bootstrap.
	MarkerFileName = "checkout.yaml"
)

// Marker describes an installed platform checkout.
type Marker struct {
	// Key is the hex platform key the checkout belongs to.
	Key string `yaml:"key"`

	// Length is the platform length the checkout contains.
	Length uint64 `yaml:"length"`

	// Fork is the fork number the checkout was taken from.
	Fork uint64 `yaml:"fork"`

	// Version is the runtime version, semver with or without the v prefix.
	Version string `yaml:"version,omitempty"`

	InstalledAt time.Time `yaml:"installed_at"`
}

// EntryPath returns the entry point path inside platformPath.
func EntryPath(platformPath string) string {
	return filepath.Join(platformPath, filepath.FromSlash(EntryRelPath))
}

// RuntimePath returns the runtime executable inside platformPath for goos.
func RuntimePath(platformPath, goos string) string {
	p := filepath.Join(platformPath, filepath.FromSlash(RuntimeRelPath))
	if goos == "windows" {
		p += ".exe"
	}
	return p
}

// MarkerPath returns the marker path inside platformPath.
func MarkerPath(platformPath string) string {
	return filepath.Join(platformPath, MarkerFileName)
}

// ReadMarker loads the marker in platformPath. A missing marker returns
// an error satisfying os.IsNotExist.
func ReadMarker(platformPath string) (Marker, error) {
	var m Marker
	data, err := os.ReadFile(MarkerPath(platformPath))
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse %s: %w", MarkerFileName, err)
	}
	return m, nil
}

// WriteMarker stores m in platformPath.
func WriteMarker(platformPath string, m Marker) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", MarkerFileName, err)
	}
	return writeFileAtomic(MarkerPath(platformPath), data)
}

// writeFileAtomic writes via a temp file in the same directory and a
// rename, so readers never see a half-written file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
