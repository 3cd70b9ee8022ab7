// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bootstrap

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

//go:embed default_plan.hcl
var defaultPlan []byte

// ErrEngineClosed is returned by Evaluate after Close.
var ErrEngineClosed = errors.New("script engine closed")

// Vars are the inputs a bootstrap plan is evaluated against.
type Vars struct {
	Key    string
	DKey   string
	Triple string
	OS     string
	Arch   string
	Mirror string
	Length uint64
}

// Plan is an evaluated bootstrap plan.
type Plan struct {
	// Source is the archive location: a path, file://, http(s):// or gs://.
	Source string

	// Fork is the fork directory the checkout is installed under.
	Fork uint64

	// Length is the platform length the archive contains.
	Length uint64

	// Version is the runtime version recorded in the checkout marker.
	Version string

	// Checksum is the hex BLAKE3 digest of the archive. Empty skips
	// verification.
	Checksum string
}

// Engine evaluates bootstrap plans. One Engine serves one bootstrap call
// and is closed afterwards.
type Engine interface {
	Evaluate(ctx context.Context, vars Vars) (Plan, error)
	Close() error
}

// EngineFactory creates a fresh Engine.
type EngineFactory func() (Engine, error)

type planFile struct {
	Platform planBlock `hcl:"platform,block"`
}

type planBlock struct {
	Source   string `hcl:"source"`
	Fork     uint64 `hcl:"fork,optional"`
	Length   uint64 `hcl:"length,optional"`
	Version  string `hcl:"version,optional"`
	Checksum string `hcl:"checksum,optional"`
}

// HCLEngine evaluates plans written in HCL.
//
// # Description
//
// The plan has a single platform block whose attributes may reference
// the Vars (key, dkey, triple, os, arch, mirror, length) and the lower,
// upper and format functions.
//
// # Thread Safety
//
// Safe for concurrent use, though the launcher only ever calls it from
// the bootstrap worker.
type HCLEngine struct {
	mu       sync.Mutex
	parser   *hclparse.Parser
	src      []byte
	filename string
}

// NewHCLEngine creates an engine for the plan at path. An empty path uses
// the built-in plan.
func NewHCLEngine(path string) (*HCLEngine, error) {
	src, filename := defaultPlan, "default_plan.hcl"
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read bootstrap plan: %w", err)
		}
		src, filename = data, path
	}
	return &HCLEngine{parser: hclparse.NewParser(), src: src, filename: filename}, nil
}

// HCLEngineFactory returns an EngineFactory for the plan at path.
func HCLEngineFactory(path string) EngineFactory {
	return func() (Engine, error) {
		return NewHCLEngine(path)
	}
}

// Evaluate implements Engine.
func (e *HCLEngine) Evaluate(ctx context.Context, vars Vars) (Plan, error) {
	if err := ctx.Err(); err != nil {
		return Plan{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.parser == nil {
		return Plan{}, ErrEngineClosed
	}

	file, diags := e.parser.ParseHCL(e.src, e.filename)
	if diags.HasErrors() {
		return Plan{}, fmt.Errorf("parse bootstrap plan %s: %w", e.filename, diags)
	}

	var parsed planFile
	if diags := gohcl.DecodeBody(file.Body, evalContext(vars), &parsed); diags.HasErrors() {
		return Plan{}, fmt.Errorf("evaluate bootstrap plan %s: %w", e.filename, diags)
	}

	p := parsed.Platform
	if p.Source == "" {
		return Plan{}, fmt.Errorf("bootstrap plan %s: empty source", e.filename)
	}
	length := p.Length
	if length == 0 {
		length = vars.Length
	}
	return Plan{
		Source:   p.Source,
		Fork:     p.Fork,
		Length:   length,
		Version:  p.Version,
		Checksum: p.Checksum,
	}, nil
}

// Close implements Engine. Safe to call more than once.
func (e *HCLEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.parser = nil
	return nil
}

func evalContext(v Vars) *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"key":    cty.StringVal(v.Key),
			"dkey":   cty.StringVal(v.DKey),
			"triple": cty.StringVal(v.Triple),
			"os":     cty.StringVal(v.OS),
			"arch":   cty.StringVal(v.Arch),
			"mirror": cty.StringVal(v.Mirror),
			"length": cty.NumberUIntVal(v.Length),
		},
		Functions: map[string]function.Function{
			"lower":  stdlib.LowerFunc,
			"upper":  stdlib.UpperFunc,
			"format": stdlib.FormatFunc,
		},
	}
}
