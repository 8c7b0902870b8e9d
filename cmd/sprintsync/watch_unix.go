//go:build unix

package main

import (
	"os"

	"golang.org/x/sys/unix"
)

var watchSignals = []os.Signal{unix.SIGTERM, unix.SIGINT, unix.SIGHUP}

// isReloadSignal reports whether sig asks watch to reload the status map.
func isReloadSignal(sig os.Signal) bool {
	return sig == unix.SIGHUP
}
