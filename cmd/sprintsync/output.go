package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputJSON prints v for --json. Encoding failures are fatal.
func outputJSON(v interface{}) {
	if err := writeJSON(os.Stdout, v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

// outputJSONError prints {"error": msg} on stderr and exits 1.
func outputJSONError(msg string) {
	_ = writeJSON(os.Stderr, map[string]string{"error": msg})
	os.Exit(1)
}
