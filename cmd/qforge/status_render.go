package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"qforge/internal/supervisor"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 12
	statusIndent     = "  "
)

func renderPipelineStatus(status supervisor.Status, colorize bool) []string {
	lines := renderSectionHeader("Pipeline", colorize)
	if status.Running {
		lines = append(lines, renderStatusLine("State", statusOK, fmt.Sprintf("running (pgid %d)", status.PGID), colorize))
	} else {
		lines = append(lines, renderStatusLine("State", statusInfo, "idle", colorize))
	}
	if status.Reaped {
		lines = append(lines, renderStatusLine("Lock", statusWarn, "removed stale lock left by a dead process group", colorize))
	}
	lines = append(lines,
		renderStatusLine("Lock file", statusInfo, status.LockPath, colorize),
		renderStatusLine("Log file", statusInfo, status.LogPath, colorize),
		"",
	)
	lines = append(lines, renderSectionHeader("Recent output", colorize)...)
	if len(status.LogTail) == 0 {
		return append(lines, statusIndent+"(no output yet)")
	}
	for _, line := range status.LogTail {
		lines = append(lines, statusIndent+line)
	}
	return lines
}

// renderStatusLine formats "  Label:       [KIND] message", tinted by kind
// when colorize is set.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	style := statusStyles[kind]
	tag := "[" + style.label + "]"
	if message != "" {
		tag += " " + message
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", tag)
	return paint(line, style.color, colorize)
}

var statusStyles = map[statusKind]struct{ label, color string }{
	statusInfo:  {"INFO", ansiBlue},
	statusOK:    {"OK", ansiGreen},
	statusWarn:  {"WARN", ansiYellow},
	statusError: {"ERROR", ansiRed},
}

func renderSectionHeader(title string, colorize bool) []string {
	heading := "== " + strings.TrimSpace(title) + " =="
	return []string{
		paint(heading, ansiBlue, colorize),
		paint(strings.Repeat("-", len(heading)), ansiBlue, colorize),
	}
}

func paint(text, color string, enabled bool) string {
	if !enabled || color == "" {
		return text
	}
	return color + text + ansiReset
}

// shouldColorize reports whether w is an interactive terminal. The same test
// gates the progress bar.
func shouldColorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
