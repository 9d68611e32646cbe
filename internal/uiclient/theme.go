// Package uiclient implements the UI Client Session (§4.9): connect,
// register, replay history, render streamed turn events, and forward
// local commands, built on bubbletea/bubbles/lipgloss the way the
// teacher's tui package composes them.
package uiclient

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Kanagawa Dragon, trimmed to the roles the transcript actually uses.
var (
	green     = lipgloss.Color("#98BB6C")
	red       = lipgloss.Color("#FF5D62")
	cyan      = lipgloss.Color("#7E9CD8")
	violet    = lipgloss.Color("#957FB8")
	lightText = lipgloss.Color("#DCD7BA")
	mutedText = lipgloss.Color("#727169")
	border    = lipgloss.Color("#363646")
)

// Theme holds the pre-configured styles the transcript and input editor
// render with.
type Theme struct {
	Assistant lipgloss.Style
	Muted     lipgloss.Style
	Tool      lipgloss.Style
	Error     lipgloss.Style
	EndMarker lipgloss.Style
	Prompt    lipgloss.Style
	Input     lipgloss.Style
	Border    lipgloss.Style
}

// NewTheme builds the default jelly-j transcript styling.
func NewTheme() *Theme {
	return &Theme{
		Assistant: lipgloss.NewStyle().Foreground(lightText),
		Muted:     lipgloss.NewStyle().Foreground(mutedText).Faint(true),
		Tool:      lipgloss.NewStyle().Foreground(cyan),
		Error:     lipgloss.NewStyle().Foreground(red).Bold(true),
		EndMarker: lipgloss.NewStyle().Foreground(green),
		Prompt:    lipgloss.NewStyle().Foreground(violet).Bold(true),
		Input:     lipgloss.NewStyle().Foreground(lightText),
		Border:    lipgloss.NewStyle().Foreground(border),
	}
}

var DefaultTheme = NewTheme()

// InitTerminal resolves the color profile the way the teacher's
// tui.InitializeTUI does, so the transcript degrades gracefully on
// non-true-color terminals instead of assuming one.
func InitTerminal() {
	if os.Getenv("CLICOLOR_FORCE") == "1" || os.Getenv("COLORTERM") == "truecolor" {
		lipgloss.SetColorProfile(termenv.TrueColor)
	}
}
