// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package platform identifies the shared runtime ("the platform") the
// launcher depends on and locates its installed copy on disk.
//
// # Layout
//
// Every installed platform lives under the platform root:
//
//	<root>/by-dkey/<discovery-key>/<fork>/by-arch/<os>-<arch>/
//
// A BadgerDB index at <root>/index maps platform keys to those
// directories. When the index cannot answer (missing, corrupt, stale), a
// directory scan can reconstruct the path. The scan is enabled by
// configuration and defaults to on for Windows only.
package platform

import (
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/blake2b"
)

// KeySize is the length in bytes of a platform key.
const KeySize = 32

var (
	// ErrNotFound means no installed platform matches the descriptor.
	// It is the only resolution error that triggers the scan fallback.
	ErrNotFound = errors.New("platform not found")

	// ErrUnresolved is returned by Path accessors before a successful
	// resolution.
	ErrUnresolved = errors.New("platform path read before resolution")
)

// The platform build this launcher is compiled against.
var defaultKey = [KeySize]byte{
	0x6d, 0xd8, 0x97, 0x2d, 0xb0, 0x87, 0xad, 0x75,
	0x41, 0x9a, 0x0b, 0x55, 0x4f, 0x6e, 0xa1, 0xfb,
	0x22, 0x22, 0x3b, 0xa1, 0xf2, 0xc4, 0x84, 0x54,
	0x41, 0xe0, 0x78, 0x8a, 0xf3, 0x0e, 0xf3, 0x7d,
}

const defaultLength = 2392

// Descriptor identifies a platform build and, once resolved, where it is
// installed.
//
// # Description
//
// Key and Length are fixed at construction. Path is empty until a
// Resolver succeeds; consumers must call Path (or MustPath) rather than
// reading the field directly so that use-before-resolution is caught.
//
// # Thread Safety
//
// Not safe for concurrent mutation. The launch sequencer resolves on one
// goroutine at a time and hands the worker a copy of Key.
type Descriptor struct {
	Key    [KeySize]byte
	Length uint64

	path string
}

// Default returns the descriptor of the platform build this binary
// targets.
func Default() *Descriptor {
	return &Descriptor{Key: defaultKey, Length: defaultLength}
}

// NewDescriptor builds an unresolved descriptor.
func NewDescriptor(key [KeySize]byte, length uint64) *Descriptor {
	return &Descriptor{Key: key, Length: length}
}

// KeyHex returns the lowercase hex form of Key.
func (d *Descriptor) KeyHex() string {
	return hex.EncodeToString(d.Key[:])
}

// Resolved reports whether a path has been set by resolution.
func (d *Descriptor) Resolved() bool {
	return d.path != ""
}

// Path returns the resolved install path or ErrUnresolved.
func (d *Descriptor) Path() (string, error) {
	if d.path == "" {
		return "", ErrUnresolved
	}
	return d.path, nil
}

// MustPath returns the resolved install path and panics when the
// descriptor has not been resolved. Reaching it unresolved is a
// programming error in the caller.
func (d *Descriptor) MustPath() string {
	if d.path == "" {
		panic(ErrUnresolved)
	}
	return d.path
}

// ResolvedAt returns a copy of d resolved to path. Used when the path is
// already known, e.g. right after bootstrap installed it.
func (d *Descriptor) ResolvedAt(path string) *Descriptor {
	c := *d
	c.path = path
	return &c
}

func (d *Descriptor) setPath(p string) {
	d.path = p
}

// DiscoveryKey derives the directory name used under by-dkey/.
//
// It is BLAKE2b-256 keyed with the platform key over the ASCII string
// "hypercore", hex encoded.
func DiscoveryKey(key [KeySize]byte) string {
	h, err := blake2b.New256(key[:])
	if err != nil {
		// Only possible with a key longer than 64 bytes.
		panic(fmt.Sprintf("blake2b: %v", err))
	}
	h.Write([]byte("hypercore"))
	return hex.EncodeToString(h.Sum(nil))
}

// TargetTriple returns the by-arch directory name for the running
// process, e.g. "linux-x64", "darwin-arm64", "win32-x64".
func TargetTriple() string {
	return Triple(runtime.GOOS, runtime.GOARCH)
}

// Triple maps Go platform names onto the runtime's naming.
func Triple(goos, goarch string) string {
	osName := goos
	if goos == "windows" {
		osName = "win32"
	}
	arch := goarch
	switch goarch {
	case "amd64":
		arch = "x64"
	case "386":
		arch = "ia32"
	}
	return osName + "-" + arch
}
