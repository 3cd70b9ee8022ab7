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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	hexID = strings.Repeat("ab", 32)
	z32ID = strings.Repeat("ybndrfg8ejkmc", 4)
)

func testIdentity(t *testing.T) Identity {
	t.Helper()
	var id AppID
	for i := range id {
		id[i] = byte(i)
	}
	return Identity{ID: id, ExePath: "/opt/app/bin/app"}
}

func TestIsValidID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"hex", hexID, true},
		{"hex uppercase rejected", strings.ToUpper(hexID), false},
		{"hex with non-hex char", strings.Repeat("a", 63) + "g", false},
		{"z32", z32ID, true},
		{"z32 with excluded letter", strings.Repeat("l", 52), false},
		{"z32 with digit 2", strings.Repeat("2", 52), false},
		{"length 63", strings.Repeat("a", 63), false},
		{"length 65", strings.Repeat("a", 65), false},
		{"length 51", z32ID[:51], false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidID(tt.id))
		})
	}
}

func TestParseLink(t *testing.T) {
	t.Run("pear with data", func(t *testing.T) {
		link, err := ParseLink("pear://" + hexID + "/docs/index.html")
		require.NoError(t, err)
		assert.Equal(t, SchemePear, link.Scheme)
		assert.Equal(t, hexID, link.ID)
		assert.Equal(t, "docs/index.html", link.Data)
	})

	t.Run("punch without data", func(t *testing.T) {
		link, err := ParseLink("punch://" + z32ID)
		require.NoError(t, err)
		assert.Equal(t, SchemePunch, link.Scheme)
		assert.Equal(t, z32ID, link.ID)
		assert.Empty(t, link.Data)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := ParseLink("https://example.com")
		assert.True(t, errors.Is(err, ErrUnsupportedScheme))
	})

	t.Run("not a url", func(t *testing.T) {
		_, err := ParseLink("-psn_0_12345")
		assert.True(t, errors.Is(err, ErrUnsupportedScheme))
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := ParseLink("pear:///data")
		assert.True(t, errors.Is(err, ErrMissingID))
	})
}

func TestLink_String(t *testing.T) {
	assert.Equal(t, "pear://"+hexID, Link{ID: hexID}.String())
	assert.Equal(t, "punch://"+z32ID+"/a/b", Link{Scheme: SchemePunch, ID: z32ID, Data: "a/b"}.String())
}

func TestFromArgs(t *testing.T) {
	ident := testIdentity(t)
	self := ident.ID.String()

	tests := []struct {
		name     string
		argv     []string
		wantID   string
		wantData string
		wantArgs bool
	}{
		{"no args", []string{"app"}, self, "", false},
		{"empty argv", nil, self, "", false},
		{"valid hex link", []string{"app", "pear://" + hexID + "/x"}, hexID, "x", true},
		{"valid z32 link", []string{"app", "pear://" + z32ID}, z32ID, "", true},
		{"invalid id length", []string{"app", "pear://abc"}, self, "", false},
		{"garbage arg", []string{"app", "--flag"}, self, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, fromArgs := FromArgs(tt.argv, ident)
			assert.Equal(t, tt.wantID, link.ID)
			assert.Equal(t, tt.wantData, link.Data)
			assert.Equal(t, tt.wantArgs, fromArgs)
			assert.True(t, IsValidID(link.ID), "returned link must always have a valid id")
		})
	}
}

func TestParseAppID(t *testing.T) {
	id, err := ParseAppID(hexID)
	require.NoError(t, err)
	assert.Equal(t, hexID, id.String())

	_, err = ParseAppID("zz")
	assert.True(t, errors.Is(err, ErrInvalidAppID))

	_, err = ParseAppID(strings.ToUpper(hexID))
	assert.True(t, errors.Is(err, ErrInvalidAppID))
}
