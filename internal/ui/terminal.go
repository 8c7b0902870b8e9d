package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// ShouldUseColor follows the NO_COLOR / CLICOLOR conventions:
// a non-empty NO_COLOR wins, then CLICOLOR=0, then CLICOLOR_FORCE, then whether stdout
// is a terminal.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	if v := os.Getenv("CLICOLOR_FORCE"); v != "" && v != "0" {
		return true
	}
	return IsTerminal()
}

// IsTerminal reports whether stdout is attached to a TTY.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ApplyColorProfile pins lipgloss to plain ASCII when color is off, so styled
// helpers degrade to their input text. Called once from the root command.
func ApplyColorProfile(jsonOutput bool) {
	if jsonOutput || !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.EnvColorProfile())
}

// TerminalWidth returns the stdout width, or def when it cannot be detected.
func TerminalWidth(def int) int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return def
}
