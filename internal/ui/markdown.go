package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
)

// Report tables get hard to scan past this width.
const maxReportWidth = 100

// RenderMarkdown renders a report for the terminal. Without color, or if
// glamour fails, the Markdown is returned as is; it is readable on its own.
func RenderMarkdown(md string) string {
	if !ShouldUseColor() {
		return md
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(markdownStyle()),
		glamour.WithWordWrap(min(TerminalWidth(80), maxReportWidth)),
		glamour.WithPreservedNewLines(),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimLeft(out, "\n")
}

// markdownStyle matches the Ayu palette choice in styles.go.
func markdownStyle() string {
	if lipgloss.HasDarkBackground() {
		return styles.DarkStyle
	}
	return styles.LightStyle
}
