// Package ui renders archive engine CLI output: status lines, tables and
// progress bars.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

var (
	stdout  io.Writer = os.Stdout
	stderr  io.Writer = os.Stderr
	chatty  bool
	heading = color.New(color.FgHiWhite, color.Bold)
	faint   = color.New(color.Faint)
)

// InitUI applies the global output flags.
func InitUI(noColor, verbose bool) {
	chatty = verbose
	color.NoColor = color.NoColor || noColor
}

type level struct {
	mark string
	c    *color.Color
	w    *io.Writer
}

var (
	levelOK   = level{"ok", color.New(color.FgGreen), &stdout}
	levelInfo = level{"--", color.New(color.FgCyan), &stdout}
	levelWarn = level{"!!", color.New(color.FgYellow), &stderr}
	levelErr  = level{"xx", color.New(color.FgRed, color.Bold), &stderr}
)

func (l level) print(format string, args ...any) {
	fmt.Fprintf(*l.w, "%s %s\n", l.c.Sprint(l.mark), fmt.Sprintf(format, args...))
}

// Success reports a finished step.
func Success(format string, args ...any) { levelOK.print(format, args...) }

// Info prints a neutral status line.
func Info(format string, args ...any) { levelInfo.print(format, args...) }

// Warning reports something the user should look at; the run continues.
func Warning(format string, args ...any) { levelWarn.print(format, args...) }

// Error reports a failure on stderr.
func Error(format string, args ...any) { levelErr.print(format, args...) }

// Debug prints only with --verbose.
func Debug(format string, args ...any) {
	if chatty {
		faint.Fprintf(stdout, "   %s\n", fmt.Sprintf(format, args...))
	}
}

// Newline prints an empty line.
func Newline() { fmt.Fprintln(stdout) }

// Section starts a titled block of output.
func Section(title string) {
	fmt.Fprintln(stdout)
	heading.Fprintln(stdout, title)
	faint.Fprintln(stdout, strings.Repeat("─", max(len([]rune(title)), 8)))
}

// Table prints rows aligned under headers.
func Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(stdout, 4, 0, 3, ' ', 0)
	fmt.Fprintln(tw, strings.ToUpper(strings.Join(headers, "\t")))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	_ = tw.Flush()
}

// Truncate cuts s to n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	switch {
	case len(r) <= n:
		return s
	case n <= 1:
		return string(r[:max(n, 0)])
	}
	return string(r[:n-1]) + "…"
}

// FormatDuration renders d rounded for humans.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
