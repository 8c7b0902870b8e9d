// Package ui provides terminal styling for sprintsync CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/sprintpulse/sprintsync/internal/types"
)

// Ayu theme color palette
// Dark: https://terminalcolors.com/themes/ayu/dark/
// Light: https://terminalcolors.com/themes/ayu/light/
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
)

var (
	PassStyle     = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle     = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle     = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle    = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle   = lipgloss.NewStyle().Foreground(ColorAccent)
	BoldStyle     = lipgloss.NewStyle().Bold(true)
	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconInfo = "ℹ"
)

const SeparatorLight = "──────────────────────────────────────────"

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }
func RenderBold(s string) string   { return BoldStyle.Render(s) }

// RenderCategory renders a section header in uppercase with accent color.
func RenderCategory(s string) string {
	return CategoryStyle.Render(strings.ToUpper(s))
}

func RenderSeparator() string {
	return MutedStyle.Render(SeparatorLight)
}

func RenderPassIcon() string { return PassStyle.Render(IconPass) }
func RenderWarnIcon() string { return WarnStyle.Render(IconWarn) }
func RenderFailIcon() string { return FailStyle.Render(IconFail) }
func RenderInfoIcon() string { return AccentStyle.Render(IconInfo) }

// RenderSprintState colors a sprint state: active is accent, closed is muted.
func RenderSprintState(state types.SprintState) string {
	switch state {
	case types.SprintActive:
		return AccentStyle.Render(string(state))
	case types.SprintClosed:
		return MutedStyle.Render(string(state))
	default:
		return string(state)
	}
}

// RenderRunStatus colors a sync run outcome.
func RenderRunStatus(status types.SyncRunStatus) string {
	switch status {
	case types.SyncSucceeded:
		return PassStyle.Render(string(status))
	case types.SyncFailed:
		return FailStyle.Render(string(status))
	case types.SyncRunning:
		return WarnStyle.Render(string(status))
	default:
		return string(status)
	}
}
