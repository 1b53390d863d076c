// Package tui provides a live terminal dashboard for a replay run.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for styling.
// It displays:
// - Worker start progress
// - The on-screen video and its buffer level
// - Stall time, bandwidth estimate and selected bitrate
// - Transfer counters and the most recent chunks
package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Color Palette
// =============================================================================

// Colors based on a modern dark theme
var (
	// Primary colors
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan

	// Status colors
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorInfo    = lipgloss.Color("#3B82F6") // Blue

	// Neutral colors
	colorText      = lipgloss.Color("#E5E7EB") // Light gray
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
	colorTextDim   = lipgloss.Color("#6B7280") // Dark gray
	colorBorder    = lipgloss.Color("#374151") // Border gray
)

// =============================================================================
// Base Styles
// =============================================================================

var (
	mutedStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)
)

// =============================================================================
// Status Indicator Styles
// =============================================================================

var (
	statusOK = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	statusWarning = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	statusError = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	statusInfo = lipgloss.NewStyle().
			Foreground(colorInfo).
			Bold(true)
)

// =============================================================================
// Layout Styles
// =============================================================================

var (
	// Box/panel styles
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	// Header style
	headerStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorPrimary).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	// Section header style
	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorBorder).
				MarginTop(1)

	// Footer style
	footerStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			MarginTop(1)
)

// =============================================================================
// Value Styles
// =============================================================================

var (
	valueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	valueGoodStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	valueBadStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	valueWarnStyle = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Width(20)
)

// =============================================================================
// Progress Bar Styles
// =============================================================================

var (
	progressBarStyle = lipgloss.NewStyle().
				Foreground(colorPrimary)

	progressBarEmptyStyle = lipgloss.NewStyle().
				Foreground(colorBorder)

	progressPercentStyle = lipgloss.NewStyle().
				Foreground(colorText).
				Bold(true)
)

// =============================================================================
// Table Styles
// =============================================================================

var (
	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorBorder)

	tableRowEvenStyle = lipgloss.NewStyle().
				Foreground(colorText)

	tableRowOddStyle = lipgloss.NewStyle().
				Foreground(colorTextMuted)
)

// =============================================================================
// Buffer Health Indicator
// =============================================================================

// BufferStatus is the health of the on-screen buffer.
type BufferStatus int

const (
	BufferStatusHealthy BufferStatus = iota
	BufferStatusLow
	BufferStatusEmpty
)

// GetBufferStatus classifies a buffer level against the panic threshold.
func GetBufferStatus(buffer, panicThreshold float64) BufferStatus {
	switch {
	case buffer <= 0:
		return BufferStatusEmpty
	case buffer < panicThreshold:
		return BufferStatusLow
	default:
		return BufferStatusHealthy
	}
}

// GetBufferStyle returns the style for a buffer status.
func GetBufferStyle(status BufferStatus) lipgloss.Style {
	switch status {
	case BufferStatusEmpty:
		return statusError
	case BufferStatusLow:
		return statusWarning
	default:
		return statusOK
	}
}

// GetBufferLabel returns a styled label for the header.
func GetBufferLabel(buffer, panicThreshold float64) string {
	status := GetBufferStatus(buffer, panicThreshold)
	style := GetBufferStyle(status)
	switch status {
	case BufferStatusEmpty:
		return style.Render("● Stalled")
	case BufferStatusLow:
		return style.Render("● Low buffer")
	default:
		return style.Render("● Playing")
	}
}

// =============================================================================
// Rebuffering Indicator
// =============================================================================

// GetRebufferStyle returns a style based on the rebuffering ratio.
func GetRebufferStyle(ratio float64) lipgloss.Style {
	switch {
	case ratio == 0:
		return valueGoodStyle
	case ratio < 0.05: // <5%
		return valueWarnStyle
	default:
		return valueBadStyle
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}

// RenderProgressBar renders a progress bar.
func RenderProgressBar(progress float64, width int) string {
	if width < 10 {
		width = 10
	}

	filled := int(progress * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := progressBarStyle.Render(repeatChar('█', filled)) +
		progressBarEmptyStyle.Render(repeatChar('░', width-filled))

	percent := progressPercentStyle.Render(fmt.Sprintf(" %3.0f%%", progress*100))

	return bar + percent
}

// RenderBufferBar renders buffered seconds against a ceiling, colored by
// buffer health.
func RenderBufferBar(buffer, ceiling, panicThreshold float64, width int) string {
	if width < 10 {
		width = 10
	}
	if ceiling <= 0 {
		ceiling = 1
	}

	filled := int(buffer / ceiling * float64(width))
	filled = max(0, min(filled, width))

	style := GetBufferStyle(GetBufferStatus(buffer, panicThreshold))
	bar := style.Render(repeatChar('█', filled)) +
		progressBarEmptyStyle.Render(repeatChar('░', width-filled))

	return bar + progressPercentStyle.Render(fmt.Sprintf(" %5.1fs", buffer))
}

func repeatChar(char rune, count int) string {
	if count <= 0 {
		return ""
	}
	result := make([]rune, count)
	for i := range result {
		result[i] = char
	}
	return string(result)
}
