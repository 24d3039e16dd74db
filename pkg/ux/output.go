// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux styles editcore's terminal output.
//
// A Printer colors diffs and status lines with lipgloss when its writer is
// a terminal and NO_COLOR is unset. Otherwise it writes plain text, so
// piped output and tests see exactly the same words without escapes.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Palette - deep ocean teals with conventional diff colors.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorAdded   = lipgloss.Color("#2ECC71")
	ColorRemoved = lipgloss.Color("#E74C3C")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Icon is a status marker.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
)

// styles are bound to one lipgloss renderer.
type styles struct {
	header  lipgloss.Style
	file    lipgloss.Style
	hunk    lipgloss.Style
	added   lipgloss.Style
	removed lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header:  r.NewStyle().Bold(true).Foreground(ColorTealBright),
		file:    r.NewStyle().Bold(true),
		hunk:    r.NewStyle().Foreground(ColorTealDeep),
		added:   r.NewStyle().Foreground(ColorAdded),
		removed: r.NewStyle().Foreground(ColorRemoved),
		muted:   r.NewStyle().Foreground(ColorSlate),
		success: r.NewStyle().Foreground(ColorTealPrimary),
		warning: r.NewStyle().Foreground(ColorWarning),
		failure: r.NewStyle().Foreground(ColorError).Bold(true),
	}
}

// Printer writes styled lines to w.
type Printer struct {
	w      io.Writer
	color  bool
	styles styles
}

// NewPrinter returns a Printer that colors output only when w is a
// terminal and NO_COLOR is unset.
func NewPrinter(w io.Writer) *Printer {
	return NewPrinterWithColor(w, ColorEnabled(w))
}

// NewPrinterWithColor returns a Printer with color forced on or off.
func NewPrinterWithColor(w io.Writer, color bool) *Printer {
	r := lipgloss.NewRenderer(w)
	if color {
		r.SetColorProfile(termenv.ANSI256)
	} else {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Printer{w: w, color: color, styles: newStyles(r)}
}

// ColorEnabled reports whether w should receive ANSI color.
func ColorEnabled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Color reports whether the printer emits ANSI color.
func (p *Printer) Color() bool {
	return p.color
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.w
}

// Header prints a section header line.
func (p *Printer) Header(format string, args ...any) {
	fmt.Fprintln(p.w, p.render(p.styles.header, fmt.Sprintf(format, args...)))
}

// Line prints an unstyled line.
func (p *Printer) Line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Muted prints a secondary line.
func (p *Printer) Muted(format string, args ...any) {
	fmt.Fprintln(p.w, p.render(p.styles.muted, fmt.Sprintf(format, args...)))
}

// Success prints a success line.
func (p *Printer) Success(format string, args ...any) {
	p.status(IconSuccess, p.styles.success, format, args...)
}

// Warning prints a warning line.
func (p *Printer) Warning(format string, args ...any) {
	p.status(IconWarning, p.styles.warning, format, args...)
}

// Failure prints an error line.
func (p *Printer) Failure(format string, args ...any) {
	p.status(IconError, p.styles.failure, format, args...)
}

func (p *Printer) render(style lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return style.Render(text)
}

func (p *Printer) status(icon Icon, style lipgloss.Style, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if !p.color {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", style.Render(string(icon)), style.Render(text))
}

// Diff prints a unified diff, coloring file headers, hunk headers and
// added and removed lines. A missing trailing newline is supplied.
func (p *Printer) Diff(diff string) {
	if diff == "" {
		return
	}
	if !p.color {
		fmt.Fprint(p.w, diff)
		if !strings.HasSuffix(diff, "\n") {
			fmt.Fprintln(p.w)
		}
		return
	}

	for _, line := range strings.Split(strings.TrimSuffix(diff, "\n"), "\n") {
		var style lipgloss.Style
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			style = p.styles.file
		case strings.HasPrefix(line, "@@"):
			style = p.styles.hunk
		case strings.HasPrefix(line, "+"):
			style = p.styles.added
		case strings.HasPrefix(line, "-"):
			style = p.styles.removed
		default:
			fmt.Fprintln(p.w, line)
			continue
		}
		fmt.Fprintln(p.w, style.Render(line))
	}
}
