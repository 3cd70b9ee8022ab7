// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package platform

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// ScanStrategy reconstructs the install path from the directory layout.
//
// # Description
//
//  1. The first directory under <root>/by-dkey in listing order. The
//     listing is not sorted, so with several discovery keys the pick
//     depends on the filesystem.
//  2. Inside it, the child directory whose whole name is a non-negative
//     decimal integer with the greatest value. Other names are ignored.
//  3. <found>/<fork>/by-arch/<Triple>.
//
// The result is not checked for existence; readiness decides that.
type ScanStrategy struct {
	// Triple is the by-arch directory. Default: TargetTriple().
	Triple string
}

// Name implements Strategy.
func (s *ScanStrategy) Name() string { return "scan" }

// Locate implements Strategy.
func (s *ScanStrategy) Locate(ctx context.Context, _ *Descriptor, root string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	byDKey := filepath.Join(root, "by-dkey")

	dkey, err := firstDir(byDKey)
	if err != nil {
		return "", err
	}
	dkeyPath := filepath.Join(byDKey, dkey)

	fork, err := maxForkDir(dkeyPath)
	if err != nil {
		return "", err
	}

	triple := s.Triple
	if triple == "" {
		triple = TargetTriple()
	}
	return filepath.Join(dkeyPath, fork, "by-arch", triple), nil
}

// readDirUnsorted lists dir in the order the filesystem returns entries.
// os.ReadDir would sort them.
func readDirUnsorted(dir string) ([]fs.DirEntry, error) {
	f, err := os.Open(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrNotFound, dir)
		}
		return nil, err
	}
	defer f.Close()
	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	return entries, nil
}

func firstDir(dir string) (string, error) {
	entries, err := readDirUnsorted(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			return e.Name(), nil
		}
	}
	return "", fmt.Errorf("%w: no directory in %s", ErrNotFound, dir)
}

func maxForkDir(dir string) (string, error) {
	entries, err := readDirUnsorted(dir)
	if err != nil {
		return "", err
	}
	best := int64(-1)
	name := ""
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n := e.Name()
		if n == "" || n[0] < '0' || n[0] > '9' {
			continue
		}
		val, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			continue
		}
		if val > best {
			best = val
			name = n
		}
	}
	if name == "" {
		return "", fmt.Errorf("%w: no numeric fork directory in %s", ErrNotFound, dir)
	}
	return name, nil
}
