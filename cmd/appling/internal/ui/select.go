// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode selects a Toolkit.
type Mode string

const (
	// ModeAuto picks the terminal toolkit when the output is a terminal.
	ModeAuto     Mode = "auto"
	ModeTerminal Mode = "terminal"
	ModeHeadless Mode = "headless"
)

// ParseMode converts a configuration string to a Mode. Empty is ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeTerminal, ModeHeadless:
		return m, nil
	default:
		return "", fmt.Errorf("unknown splash toolkit %q", s)
	}
}

// Select returns the Toolkit for mode drawing to out.
func Select(mode Mode, out *os.File) Toolkit {
	switch mode {
	case ModeTerminal:
		return &TerminalToolkit{Output: out}
	case ModeHeadless:
		return NewHeadlessToolkit()
	}
	if out != nil && (isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())) {
		return &TerminalToolkit{Output: out}
	}
	return NewHeadlessToolkit()
}
