package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/scheduler"
)

// Palette. Adaptive colors keep the dashboard readable on light terminals.
var (
	colorAccent  = lipgloss.AdaptiveColor{Light: "25", Dark: "62"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "248", Dark: "240"}
	colorFaint   = lipgloss.AdaptiveColor{Light: "245", Dark: "244"}
	colorWarn    = lipgloss.AdaptiveColor{Light: "136", Dark: "11"}
	colorOK      = lipgloss.AdaptiveColor{Light: "28", Dark: "10"}
	colorBad     = lipgloss.AdaptiveColor{Light: "160", Dark: "9"}
	colorCritic  = lipgloss.AdaptiveColor{Light: "127", Dark: "13"}
	colorOnFocus = lipgloss.AdaptiveColor{Light: "15", Dark: "0"}
)

var (
	StyleFocusedBorder   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorAccent)
	StyleUnfocusedBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorMuted)

	StyleStatusRunning   = lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
	StyleStatusReviewing = lipgloss.NewStyle().Foreground(colorCritic).Bold(true)
	StyleStatusComplete  = lipgloss.NewStyle().Foreground(colorOK).Bold(true)
	StyleStatusFailed    = lipgloss.NewStyle().Foreground(colorBad).Bold(true)
	StyleStatusPending   = lipgloss.NewStyle().Foreground(colorMuted)

	StyleTitle    = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	StyleHelp     = lipgloss.NewStyle().Foreground(colorFaint)
	StyleSelected = lipgloss.NewStyle().Background(colorAccent).Foreground(colorOnFocus)
	StyleActor    = lipgloss.NewStyle().Bold(true)
	StyleDim      = lipgloss.NewStyle().Foreground(colorFaint)
)

type glyph struct {
	symbol string
	style  lipgloss.Style
}

var statusGlyphs = map[scheduler.TaskStatus]glyph{
	scheduler.TaskPending:    {"○", StyleStatusPending},
	scheduler.TaskInProgress: {"●", StyleStatusRunning},
	scheduler.TaskReviewing:  {"◆", StyleStatusReviewing},
	scheduler.TaskCompleted:  {"✓", StyleStatusComplete},
	scheduler.TaskFailed:     {"✗", StyleStatusFailed},
}

var severityStyles = map[events.Severity]lipgloss.Style{
	events.SeveritySuccess:  StyleStatusComplete,
	events.SeverityWarning:  StyleStatusRunning,
	events.SeverityError:    StyleStatusFailed,
	events.SeverityCritique: StyleStatusReviewing,
}

// SeverityStyle returns the style for a log line. Info is unstyled.
func SeverityStyle(s events.Severity) lipgloss.Style {
	if st, ok := severityStyles[s]; ok {
		return st
	}
	return lipgloss.NewStyle()
}

// StatusIcon renders the indicator for a task status. Unknown statuses
// render as pending.
func StatusIcon(status scheduler.TaskStatus) string {
	g, ok := statusGlyphs[status]
	if !ok {
		g = statusGlyphs[scheduler.TaskPending]
	}
	return g.style.Render(g.symbol)
}
