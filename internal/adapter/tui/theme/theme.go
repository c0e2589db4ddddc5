// Package theme holds the colors, symbols and styles of the chat TUI.
// Colors adapt to light and dark backgrounds; lipgloss drops them
// entirely when NO_COLOR is set.
package theme

import "github.com/charmbracelet/lipgloss"

func adaptive(light, dark string) lipgloss.AdaptiveColor {
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

// Palette.
var (
	ColorInfo    = adaptive("#1565c0", "#64b5f6")
	ColorAgent   = adaptive("#4527a0", "#b39ddb")
	ColorOK      = adaptive("#2e7d32", "#81c784")
	ColorFailure = adaptive("#b71c1c", "#e57373")
	ColorTool    = adaptive("#bf360c", "#ffb74d")
	ColorMuted   = adaptive("#616161", "#9e9e9e")
	ColorBorder  = adaptive("#cfcfcf", "#4a4a4a")
	colorBarBg   = adaptive("#eeeeee", "#262626")
)

func fg(c lipgloss.TerminalColor) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }

var (
	Dim = lipgloss.NewStyle().Faint(true)

	TextInfo    = fg(ColorInfo)
	TextMuted   = fg(ColorMuted)
	TextSuccess = fg(ColorOK).Bold(true)
	TextError   = fg(ColorFailure).Bold(true)

	// Transcript labels, one per role.
	UserLabel   = fg(ColorInfo).Bold(true)
	BotLabel    = fg(ColorAgent).Bold(true)
	SystemLabel = fg(ColorMuted).Bold(true)
	ErrorLabel  = fg(ColorFailure).Bold(true)
	ToolLabel   = fg(ColorTool).Bold(true)
	Timestamp   = fg(ColorMuted).Faint(true)

	StatusBar        = fg(ColorMuted).Background(colorBarBg).Padding(0, 1)
	StatusKey        = fg(ColorInfo).Bold(true)
	InputPrompt      = fg(ColorAgent).Bold(true)
	InputPlaceholder = fg(ColorMuted)
)

// MaxContentWidth caps the width of rendered messages on wide terminals.
const MaxContentWidth = 100

func Clamp(v, lo, hi int) int { return min(max(v, lo), hi) }
