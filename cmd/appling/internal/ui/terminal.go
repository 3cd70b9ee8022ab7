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
	"context"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// One terminal cell covers CellWidth x CellHeight logical units.
const (
	CellWidth  = 10
	CellHeight = 20
)

// Fallback terminal size when the output is not a terminal and no resize
// event arrived yet.
const (
	defaultCols = 80
	defaultRows = 24
)

// TerminalToolkit draws windows in the terminal with bubbletea.
//
// # Description
//
// The bubbletea program is the loop. Dispatched functions arrive as
// messages and run inside Update, so they share the goroutine that
// called Run. Keyboard input is not read; the splash has no close
// button.
type TerminalToolkit struct {
	// Output receives the rendering. Default: os.Stderr.
	Output io.Writer
}

// Run implements Toolkit.
func (t *TerminalToolkit) Run(ctx context.Context, launch func(UI) error) error {
	out := t.Output
	if out == nil {
		out = os.Stderr
	}

	m := newTermModel(launch, out)
	p := tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithOutput(out),
		tea.WithInput(nil),
	)
	m.ui.program = p

	_, err := p.Run()
	if m.launchErr != nil {
		return m.launchErr
	}
	return err
}

// Messages handled by termModel.
type (
	launchMsg   struct{}
	dispatchMsg struct{ fn func() }
)

type termModel struct {
	launch    func(UI) error
	launchErr error

	ui      *terminalUI
	spinner spinner.Model
	windows []*terminalWindow
}

func newTermModel(launch func(UI) error, out io.Writer) *termModel {
	m := &termModel{
		launch: launch,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("205"))),
		),
	}
	m.ui = &terminalUI{model: m, out: out}
	return m
}

func (m *termModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, func() tea.Msg { return launchMsg{} })
}

func (m *termModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case launchMsg:
		if err := m.launch(m.ui); err != nil {
			m.launchErr = err
			m.ui.quitting.Store(true)
		}
	case dispatchMsg:
		msg.fn()
	case tea.WindowSizeMsg:
		m.ui.cols, m.ui.rows = msg.Width, msg.Height
	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
	}
	if m.ui.quitting.Load() {
		return m, tea.Quit
	}
	return m, cmd
}

func (m *termModel) View() string {
	var parts []string
	for _, w := range m.windows {
		if w.closed || !w.active {
			continue
		}
		parts = append(parts, w.render(m.spinner.View()))
	}
	return strings.Join(parts, "\n")
}

type terminalUI struct {
	model   *termModel
	program *tea.Program
	out     io.Writer

	// Last size reported by bubbletea; zero until the first resize.
	cols, rows int

	quitting atomic.Bool
}

func (u *terminalUI) MainScreen() (Rect, error) {
	cols, rows := u.cols, u.rows
	if f, ok := u.out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if w, h, err := term.GetSize(int(f.Fd())); err == nil {
			cols, rows = w, h
		}
	}
	if cols <= 0 || rows <= 0 {
		cols, rows = defaultCols, defaultRows
	}
	return Rect{Width: cols * CellWidth, Height: rows * CellHeight}, nil
}

func (u *terminalUI) OpenWindow(ws WindowSpec) (Window, error) {
	if u.quitting.Load() {
		return nil, ErrClosed
	}
	w := &terminalWindow{
		layout: ws,
		art:    renderHalfBlocks(ws.Image, ws.Bounds.Width/CellWidth, ws.Bounds.Height/CellHeight),
	}
	u.model.windows = append(u.model.windows, w)
	return w, nil
}

func (u *terminalUI) Dispatch(fn func()) error {
	if u.quitting.Load() || u.program == nil {
		return ErrClosed
	}
	u.program.Send(dispatchMsg{fn: fn})
	return nil
}

// Quit may run inside Update, where a synchronous Send would deadlock,
// so the quit message is sent from its own goroutine. Update also checks
// the flag after every message.
func (u *terminalUI) Quit() {
	if u.quitting.Swap(true) || u.program == nil {
		return
	}
	go u.program.Quit()
}

type terminalWindow struct {
	layout WindowSpec
	art    string
	title  string
	active bool
	closed bool
}

func (w *terminalWindow) SetTitle(title string) error {
	if w.closed {
		return ErrClosed
	}
	w.title = title
	return nil
}

func (w *terminalWindow) Activate() error {
	if w.closed {
		return ErrClosed
	}
	w.active = true
	return nil
}

func (w *terminalWindow) Close() error {
	w.closed = true
	return nil
}

func (w *terminalWindow) render(spin string) string {
	style := lipgloss.NewStyle().
		MarginLeft(max(w.layout.Bounds.X/CellWidth, 0)).
		MarginTop(max(w.layout.Bounds.Y/CellHeight, 0))
	if !w.layout.Frameless {
		style = style.Border(lipgloss.RoundedBorder())
	}

	status := spin
	if w.title != "" {
		status += " " + w.title
	}
	if w.art == "" {
		return style.Render(status)
	}
	return style.Render(w.art + "\n" + status)
}
