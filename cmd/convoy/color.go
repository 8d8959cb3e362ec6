package main

import (
	"os"
	"strings"
)

var colorEnabled = isTTY(os.Stdout)

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
)

func paint(code, s string) string {
	if !colorEnabled {
		return s
	}
	return code + s + ansiReset
}

func bold(s string) string   { return paint(ansiBold, s) }
func dim(s string) string    { return paint(ansiDim, s) }
func red(s string) string    { return paint(ansiRed, s) }
func green(s string) string  { return paint(ansiGreen, s) }
func yellow(s string) string { return paint(ansiYellow, s) }

// colorPhase colors a (possibly padded) phase string by its meaning.
func colorPhase(s string) string {
	switch strings.TrimSpace(s) {
	case "ready", "stopped":
		return green(s)
	case "failed", "aborted":
		return red(s)
	case "retrying", "stopping":
		return yellow(s)
	default:
		return s
	}
}

// colorOutcome colors a stack outcome.
func colorOutcome(s string) string {
	switch s {
	case "up", "down":
		return green(s)
	case "aborted":
		return red(s)
	case "cancelled":
		return yellow(s)
	default:
		return dim(s)
	}
}
