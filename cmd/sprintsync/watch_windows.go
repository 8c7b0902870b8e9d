//go:build windows

package main

import (
	"os"

	"golang.org/x/sys/windows"
)

var watchSignals = []os.Signal{os.Interrupt, windows.SIGTERM}

// isReloadSignal is always false; Windows has no SIGHUP. The status map is
// still reloaded when the file changes.
func isReloadSignal(os.Signal) bool {
	return false
}
