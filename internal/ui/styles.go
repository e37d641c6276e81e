// Package ui provides terminal styling for bdimport CLI output.
// Colors adapt to light and dark terminals.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/steveyegge/bdimport/internal/types"
)

var (
	ColorPass = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	ColorWarn = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	ColorFail = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	// Secondary text: timestamps, cursors, hints
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)

	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	// LabelStyle pads field names so values line up in key/value listings.
	LabelStyle = lipgloss.NewStyle().Foreground(ColorMuted).Width(12)
)

const (
	IconPass    = "✓"
	IconWarn    = "⚠"
	IconFail    = "✗"
	IconPending = "○"
	IconRunning = "◐"
)

const SeparatorLight = "──────────────────────────────────────────"

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }

// RenderCategory renders a section header in uppercase.
func RenderCategory(s string) string {
	return CategoryStyle.Render(strings.ToUpper(s))
}

func RenderSeparator() string {
	return MutedStyle.Render(SeparatorLight)
}

// RenderField renders one "label  value" line.
func RenderField(label, value string) string {
	return LabelStyle.Render(label) + " " + value
}

// RenderStatus renders a session status with its icon and color.
func RenderStatus(s types.SessionStatus) string {
	switch s {
	case types.SessionCompleted:
		return PassStyle.Render(IconPass + " " + string(s))
	case types.SessionFailed:
		return FailStyle.Render(IconFail + " " + string(s))
	case types.SessionRunning:
		return AccentStyle.Render(IconRunning + " " + string(s))
	default:
		return MutedStyle.Render(IconPending + " " + string(s))
	}
}
