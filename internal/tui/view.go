package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-abr-replay/internal/schedule"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main dashboard.
func (m Model) renderSummaryView() string {
	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderProgress())

	if m.sample != nil {
		sections = append(sections, m.renderPlayback())
		sections = append(sections, m.renderTransfers())
	}

	if m.chunks.Len() > 0 {
		sections = append(sections, m.renderRecentChunks())
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderDetailedView renders per-video buffer levels.
func (m Model) renderDetailedView() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderStreamTable(),
		m.renderFooter(),
	)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	status := GetBufferLabel(m.ActiveBuffer(), m.panicThreshold)
	if m.sample == nil {
		status = statusInfo.Render("● Starting")
	}
	if m.done {
		status = statusOK.Render("✓ Complete")
	}

	stream := "-/-"
	if m.sample != nil {
		snap := m.sample.Snapshot
		stream = fmt.Sprintf("%d/%d", min(snap.ActiveIndex+1, snap.Streams), snap.Streams)
	}

	header := fmt.Sprintf(
		" abr-replay │ %s │ Video: %s │ Elapsed: %s ",
		status,
		stream,
		formatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Progress Section
// =============================================================================

func (m Model) renderProgress() string {
	progress := m.RampProgress()

	barWidth := max(m.width-30, 20)
	progressBar := RenderProgressBar(progress, barWidth)

	var status string
	switch {
	case m.done:
		status = statusOK.Render("✓ All workers finished")
	case m.WorkersTotal() > 0 && progress >= 1.0:
		running := 0
		if m.sample != nil {
			running = m.sample.WorkersRunning
		}
		status = statusOK.Render(fmt.Sprintf("All workers started, %d running", running))
	default:
		status = statusInfo.Render(fmt.Sprintf("Starting workers... %d/%d", m.WorkersStarted(), m.WorkersTotal()))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Workers"),
		progressBar,
		status,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Playback
// =============================================================================

func (m Model) renderPlayback() string {
	snap := m.sample.Snapshot

	ratio := m.RebufferingRatio()
	barWidth := max(m.width-40, 20)

	rows := []string{
		RenderKeyValue("On Screen", fmt.Sprintf("video %s", orDash(snap.ActiveBase))),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Buffer:"),
			RenderBufferBar(m.ActiveBuffer(), m.maxBufferActive, m.panicThreshold, barWidth),
		),
		RenderKeyValue("Stall Time", fmt.Sprintf("%.2f s", snap.StallTime)),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Rebuffering:"),
			GetRebufferStyle(ratio).Render(formatPercent(ratio)),
		),
		RenderKeyValue("Estimate", formatMbps(snap.Estimate)),
		RenderKeyValue("Last Bitrate", formatBitrate(snap.LastBitrate)),
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Playback")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Transfers
// =============================================================================

func (m Model) renderTransfers() string {
	s := m.sample
	snap := s.Snapshot

	failedStyle := valueStyle
	if snap.Failed > 0 {
		failedStyle = valueBadStyle
	}
	abortedStyle := valueStyle
	if snap.Aborted > 0 {
		abortedStyle = valueWarnStyle
	}

	rows := []string{
		RenderKeyValue("Total Bytes", formatBytes(snap.TotalBytes)),
		RenderKeyValue("Rate (1s / 30s)", fmt.Sprintf("%s / %s", formatMbps(s.Rates.Last1s), formatMbps(s.Rates.Last30s))),
		RenderKeyValue("Chunks Completed", fmt.Sprintf("%d", snap.Completed)),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Chunks Failed:"),
			failedStyle.Render(fmt.Sprintf("%d", snap.Failed)),
		),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Chunks Aborted:"),
			abortedStyle.Render(fmt.Sprintf("%d", snap.Aborted)),
		),
		RenderKeyValue("Workers Swiped", fmt.Sprintf("%d", snap.Swiped)),
	}
	if s.Failures > 0 {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Transfer Errors:"),
			valueBadStyle.Render(fmt.Sprintf("%d", s.Failures)),
		))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Transfers")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Recent Chunks
// =============================================================================

func (m Model) renderRecentChunks() string {
	header := tableHeaderStyle.Render(
		fmt.Sprintf("%-8s %-6s %-4s %-10s %-10s %s", "Stream", "Rung", "Role", "Bytes", "Time", "Result"),
	)

	var rows []string
	for i, ev := range m.RecentChunks() {
		role := "fg"
		switch {
		case ev.Active:
			role = "on"
		case ev.Background:
			role = "bg"
		}

		result := statusOK.Render("ok")
		switch {
		case ev.Aborted:
			result = statusWarning.Render("aborted")
		case ev.Received == 0:
			result = statusError.Render("failed")
		case ev.Received < ev.Requested:
			result = statusWarning.Render("partial")
		}

		rowStyle := tableRowEvenStyle
		if i%2 == 1 {
			rowStyle = tableRowOddStyle
		}
		rows = append(rows, rowStyle.Render(fmt.Sprintf("%-8s %-6s %-4s %-10s %-10s ",
			ev.StreamID, ev.Rung.Label, role, formatBytes(ev.Received), formatMs(ev.Elapsed),
		))+result)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Recent Chunks"), header}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Stream Table (Detailed View)
// =============================================================================

func (m Model) renderStreamTable() string {
	snap := m.sample.Snapshot

	bases := make([]string, 0, len(snap.Buffers))
	for b := range snap.Buffers {
		bases = append(bases, b)
	}
	sort.SliceStable(bases, func(i, j int) bool {
		ki, kj := schedule.SortKey(bases[i]), schedule.SortKey(bases[j])
		if ki != kj {
			return ki < kj
		}
		return bases[i] < bases[j]
	})

	header := tableHeaderStyle.Render(fmt.Sprintf("%-10s %s", "Video", "Buffer"))

	maxRows := max(m.height-10, 5)
	barWidth := max(m.width-30, 20)

	var rows []string
	for i, base := range bases {
		if i >= maxRows {
			rows = append(rows, dimStyle.Render(fmt.Sprintf("... and %d more videos", len(bases)-maxRows)))
			break
		}
		label := base
		if base == snap.ActiveBase {
			label = "▶ " + base
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
			mutedStyle.Width(11).Render(label),
			RenderBufferBar(snap.Buffers[base], m.maxBufferActive, m.panicThreshold, barWidth),
		))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Buffered Videos"), header}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: quit",
		"d: toggle details",
		"r: refresh",
	}

	info := m.schedulePath
	if m.mode != "" {
		info += " (" + m.mode + ")"
	}
	if len(m.peers) > 0 {
		info += fmt.Sprintf(" │ %d peers", len(m.peers))
	}
	if m.metricsAddr != "" {
		info += " │ metrics " + m.metricsAddr
	}
	maxInfoLen := m.width - 50
	if len(info) > maxInfoLen && maxInfoLen > 10 {
		info = info[:maxInfoLen-3] + "..."
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := dimStyle.Render(info)

	padding := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
