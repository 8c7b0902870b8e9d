// Package debug provides opt-in tracing for the sprintsync CLI. Output goes to
// stderr only when SPRINTSYNC_DEBUG is set or --verbose was passed.
package debug

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	enabled     = os.Getenv("SPRINTSYNC_DEBUG") != ""
	verboseMode = false
	quietMode   = false

	outMu  sync.Mutex
	stderr io.Writer = os.Stderr
	stdout io.Writer = os.Stdout
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

// SetOutput redirects debug and normal output, returning a func that restores
// the previous writers.
func SetOutput(out, errOut io.Writer) func() {
	outMu.Lock()
	defer outMu.Unlock()
	prevOut, prevErr := stdout, stderr
	stdout, stderr = out, errOut
	return func() {
		outMu.Lock()
		defer outMu.Unlock()
		stdout, stderr = prevOut, prevErr
	}
}

func Logf(format string, args ...interface{}) {
	if !Enabled() {
		return
	}
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(stderr, format, args...)
}

// Timef logs like Logf with an elapsed-time suffix, for timing Jira round trips.
func Timef(start time.Time, format string, args ...interface{}) {
	if !Enabled() {
		return
	}
	msg := fmt.Sprintf(format, args...)
	Logf("%s (%s)\n", msg, time.Since(start).Round(time.Millisecond))
}

// PrintNormal prints output unless quiet mode is enabled
func PrintNormal(format string, args ...interface{}) {
	if quietMode {
		return
	}
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(stdout, format, args...)
}

// PrintlnNormal prints a line unless quiet mode is enabled
func PrintlnNormal(args ...interface{}) {
	if quietMode {
		return
	}
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintln(stdout, args...)
}
