package main

import (
	"fmt"
	"os"
)

// FatalError writes an error message to stderr and exits with code 1.
// In JSON mode the message is written as {"error": "..."} instead.
func FatalError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	shutdown()
	if jsonOutput {
		outputJSONError(msg)
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	os.Exit(1)
}

// FatalErrorWithHint writes an error message with a hint to stderr and exits.
//
//	FatalErrorWithHint("database.url not configured", "Run 'sprintsync init'")
func FatalErrorWithHint(message, hint string) {
	shutdown()
	if jsonOutput {
		outputJSONError(message)
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
	fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
	os.Exit(1)
}

// WarnError writes a warning to stderr and returns. Use it for optional steps
// (telemetry, the narrative summary) that must not fail the command.
func WarnError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}
