// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package identity

import (
	"errors"
	"fmt"
	"strings"
)

// Supported link schemes.
const (
	SchemePear  = "pear"
	SchemePunch = "punch"
)

// zBase32Alphabet is the z-base-32 alphabet used by 52-character link IDs.
const zBase32Alphabet = "ybndrfg8ejkmcpqxot1uwisza345h769"

// Accepted encoded ID lengths.
const (
	hexIDLength     = 64
	zBase32IDLength = 52
)

var (
	// ErrUnsupportedScheme is returned for anything that is not pear:// or punch://.
	ErrUnsupportedScheme = errors.New("unsupported link scheme")

	// ErrMissingID is returned when a link has no ID component.
	ErrMissingID = errors.New("link has no id")
)

// Link identifies what the launcher was asked to open.
//
// ID is either 64 lowercase hex characters or 52 z-base-32 characters.
// Data is the optional remainder after the ID, without its leading slash.
type Link struct {
	Scheme string
	ID     string
	Data   string
}

// String renders the link as scheme://id[/data]. A zero Scheme renders
// as pear.
func (l Link) String() string {
	scheme := l.Scheme
	if scheme == "" {
		scheme = SchemePear
	}
	if l.Data == "" {
		return scheme + "://" + l.ID
	}
	return scheme + "://" + l.ID + "/" + l.Data
}

// ParseLink splits a pear:// or punch:// URL into its ID and data.
//
// # Description
//
// Only the scheme is checked here. The ID is returned as written; use
// IsValidID to decide whether it is acceptable.
//
// # Inputs
//
//   - s: raw link text, e.g. "pear://<id>/some/path"
//
// # Outputs
//
//   - Link: parsed link
//   - error: ErrUnsupportedScheme or ErrMissingID (wrapped)
//
// # Example
//
//	link, err := identity.ParseLink("pear://ybndrfg8.../index.html")
func ParseLink(s string) (Link, error) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return Link{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, s)
	}
	scheme = strings.ToLower(scheme)
	if scheme != SchemePear && scheme != SchemePunch {
		return Link{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}

	id, data, _ := strings.Cut(rest, "/")
	if id == "" {
		return Link{}, fmt.Errorf("%w: %q", ErrMissingID, s)
	}
	return Link{Scheme: scheme, ID: id, Data: data}, nil
}

// IsValidID reports whether id is an acceptable link identifier.
//
// Length 64 requires every character in [0-9a-f]. Length 52 requires
// every character in the z-base-32 alphabet. Every other length is
// invalid.
func IsValidID(id string) bool {
	switch len(id) {
	case hexIDLength:
		return isLowerHex(id)
	case zBase32IDLength:
		for i := 0; i < len(id); i++ {
			if strings.IndexByte(zBase32Alphabet, id[i]) < 0 {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// FromArgs picks the link to open from the process arguments.
//
// # Description
//
// argv[0] is the program. When argv[1] is present, parses as a link, and
// has a valid ID, that link is returned with fromArgs=true. In every
// other case the self link of ident is returned (hex ID, empty data).
// Never fails.
//
// # Inputs
//
//   - argv: full process argument vector
//   - ident: the launcher identity used for the fallback
//
// # Outputs
//
//   - Link: link to open
//   - bool: true when the link came from argv
func FromArgs(argv []string, ident Identity) (Link, bool) {
	if len(argv) > 1 {
		if link, err := ParseLink(argv[1]); err == nil && IsValidID(link.ID) {
			return link, true
		}
	}
	return ident.SelfLink(), false
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
