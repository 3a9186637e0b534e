// Package color provides terminal color output support for rsyncer.
// It respects the NO_COLOR environment variable (https://no-color.org/).
package color

import (
	"fmt"
	"os"
	"sync/atomic"
)

var state struct {
	enabled    atomic.Bool
	overridden atomic.Bool
}

// Init configures color output from the environment and the --no-color flag.
// An explicit Enable or Disable call wins over Init.
func Init(noColorFlag bool) {
	if state.overridden.Load() {
		return
	}
	enabled := true
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		enabled = false
	}
	if os.Getenv("TERM") == "dumb" {
		enabled = false
	}
	if noColorFlag {
		enabled = false
	}
	state.enabled.Store(enabled)
}

// Enabled returns true if color output is enabled.
func Enabled() bool {
	return state.enabled.Load()
}

// Disable turns off color output.
func Disable() {
	state.overridden.Store(true)
	state.enabled.Store(false)
}

// Enable turns on color output.
func Enable() {
	state.overridden.Store(true)
	state.enabled.Store(true)
}

// ANSI color codes
const (
	Reset   = "\033[0m"
	Bold    = "\033[1m"
	DimCode = "\033[2m"
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Cyan    = "\033[36m"
)

func wrap(code, s string) string {
	if !Enabled() {
		return s
	}
	return code + s + Reset
}

// Success formats a success message in green.
func Success(s string) string { return wrap(Green, s) }

// Successf formats a success message with printf-style arguments.
func Successf(format string, args ...any) string {
	return Success(fmt.Sprintf(format, args...))
}

// Error formats an error message in red.
func Error(s string) string { return wrap(Red, s) }

// Warning formats a warning message in yellow.
func Warning(s string) string { return wrap(Yellow, s) }

// Info formats an informational message in cyan.
func Info(s string) string { return wrap(Cyan, s) }

// Dim formats secondary information.
func Dim(s string) string { return wrap(DimCode, s) }

// Code formats a command line (bold + dim).
func Code(s string) string {
	return wrap(Bold+DimCode, s)
}
