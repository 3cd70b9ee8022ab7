// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package identity holds the launcher's own application identity and the
// parsing of the link it was asked to open.
//
// The application ID is fixed at build time. The link comes from the first
// command-line argument when it is a well-formed pear:// or punch:// URL;
// otherwise the launcher opens its own application (the self link).
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// AppIDSize is the length in bytes of an application ID.
const AppIDSize = 32

// ErrInvalidAppID is returned when a build-time application ID cannot be
// decoded.
var ErrInvalidAppID = errors.New("invalid application id")

// AppID is the 32-byte public key that names an application.
type AppID [AppIDSize]byte

// ParseAppID decodes the 64-character lowercase hex form of an AppID.
//
// # Inputs
//
//   - s: hex string, typically injected with -ldflags "-X main.appID=..."
//
// # Outputs
//
//   - AppID: decoded identifier
//   - error: ErrInvalidAppID (wrapped) when s is not 64 hex characters
func ParseAppID(s string) (AppID, error) {
	var id AppID
	if len(s) != hex.EncodedLen(AppIDSize) || !isLowerHex(s) {
		return id, fmt.Errorf("%w: want %d lowercase hex characters, got %q", ErrInvalidAppID, hex.EncodedLen(AppIDSize), s)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidAppID, err)
	}
	return id, nil
}

// String returns the lowercase hex encoding of the ID.
func (id AppID) String() string {
	return hex.EncodeToString(id[:])
}

// Identity is the immutable identity of the running launcher: which
// application it belongs to and where its executable lives.
//
// # Thread Safety
//
// Identity is a value type and is never mutated after construction.
type Identity struct {
	ID      AppID
	ExePath string
}

// Current builds the Identity of the running process.
//
// # Description
//
// Resolves the executable path with os.Executable and evaluates symlinks
// so that resources located relative to the executable (the splash image)
// are found next to the real binary.
func Current(id AppID) (Identity, error) {
	exe, err := os.Executable()
	if err != nil {
		return Identity{}, fmt.Errorf("locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return Identity{ID: id, ExePath: exe}, nil
}

// SelfLink returns the link that opens this application with no data.
func (i Identity) SelfLink() Link {
	return Link{Scheme: SchemePear, ID: i.ID.String()}
}
