// Package theme provides the Lip Gloss color palette and reusable styles
// for the portal TUI. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Brand colors.
var (
	ColorAccent    = lipgloss.Color("#c2410c")
	ColorAccentDim = lipgloss.Color("#9a3412")
	ColorParchment = lipgloss.Color("#fde68a")
	ColorDefault   = lipgloss.Color("#9ca3af")
)

// Status colors.
var (
	ColorInitializing = lipgloss.Color("#7c3aed")
	ColorReady        = lipgloss.Color("#16a34a")
	ColorGuest        = lipgloss.Color("#d97706")
	ColorFatal        = lipgloss.Color("#dc2626")
)

// Log kind colors.
var (
	ColorAuth = lipgloss.Color("#2563eb")
	ColorSub  = lipgloss.Color("#06b6d4")
	ColorNav  = lipgloss.Color("#7c3aed")
	ColorErr  = lipgloss.Color("#dc2626")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorBg      = lipgloss.Color("#111827")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// StatusColor returns the color for a controller status name.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "initializing":
		return ColorInitializing
	case "ready":
		return ColorReady
	case "degraded-guest":
		return ColorGuest
	case "fatal":
		return ColorFatal
	default:
		return ColorDefault
	}
}

// KindColor returns the color for a session log entry kind.
func KindColor(kind string) lipgloss.Color {
	switch kind {
	case "auth":
		return ColorAuth
	case "sub":
		return ColorSub
	case "nav":
		return ColorNav
	case "err":
		return ColorErr
	default:
		return ColorDimmed
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleTab = lipgloss.NewStyle().
			Padding(0, 2).
			Foreground(ColorDimmed)

	StyleActiveTab = lipgloss.NewStyle().
			Padding(0, 2).
			Bold(true).
			Foreground(ColorBright).
			Background(ColorAccentDim)

	StyleWarning = lipgloss.NewStyle().
			Foreground(ColorWarning).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(ColorWarning).
			Padding(0, 1)

	StyleErrorPanel = lipgloss.NewStyle().
			Foreground(ColorDanger).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorDanger).
			Padding(1, 2)
)

// Truncate shortens s to n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
