package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/gammazero/deque"

	"github.com/randomizedcoder/go-abr-replay/internal/abr"
	"github.com/randomizedcoder/go-abr-replay/internal/orchestrator"
)

// recentChunks is the number of chunk lines kept for the dashboard.
const recentChunks = 8

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// SampleMsg carries one sampler tick.
type SampleMsg struct {
	Sample orchestrator.Sample
}

// ChunkMsg carries one finished chunk attempt.
type ChunkMsg struct {
	Event orchestrator.ChunkEvent
}

// DoneMsg signals that every worker has finished.
type DoneMsg struct{}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Model represents the TUI state.
type Model struct {
	// Configuration
	schedulePath    string
	mode            string
	peers           []string
	metricsAddr     string
	maxBufferActive float64
	panicThreshold  float64

	// Current state
	sample       *orchestrator.Sample
	chunks       *deque.Deque[orchestrator.ChunkEvent]
	startTime    time.Time
	lastUpdate   time.Time
	detailedView bool
	done         bool

	// Display options
	width  int
	height int

	// Quit flag
	quitting bool
}

// Config holds TUI configuration.
type Config struct {
	SchedulePath    string
	Mode            string
	Peers           []string
	MetricsAddr     string
	MaxBufferActive float64
	PanicThreshold  float64
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		schedulePath:    cfg.SchedulePath,
		mode:            cfg.Mode,
		peers:           cfg.Peers,
		metricsAddr:     cfg.MetricsAddr,
		maxBufferActive: cfg.MaxBufferActive,
		panicThreshold:  cfg.PanicThreshold,
		chunks:          new(deque.Deque[orchestrator.ChunkEvent]),
		startTime:       time.Now(),
		lastUpdate:      time.Now(),
		width:           80,
		height:          24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	// tea.WithAltScreen() is passed when creating the program.
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.detailedView = !m.detailedView
			return m, nil
		case "r":
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		return m, tickCmd()

	case SampleMsg:
		s := msg.Sample
		m.sample = &s
		m.lastUpdate = time.Now()
		return m, nil

	case ChunkMsg:
		m.chunks.PushBack(msg.Event)
		for m.chunks.Len() > recentChunks {
			m.chunks.PopFront()
		}
		return m, nil

	case DoneMsg:
		m.done = true
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.detailedView && m.sample != nil && len(m.sample.Snapshot.Buffers) > 0 {
		return m.renderDetailedView()
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the replay time of the latest sample, or the time since
// the dashboard started.
func (m Model) Elapsed() time.Duration {
	if m.sample != nil {
		return m.sample.Snapshot.Elapsed
	}
	return time.Since(m.startTime)
}

// WorkersStarted returns the number of workers started so far.
func (m Model) WorkersStarted() int {
	if m.sample == nil {
		return 0
	}
	return m.sample.WorkersStarted
}

// WorkersTotal returns the number of workers in the run.
func (m Model) WorkersTotal() int {
	if m.sample == nil {
		return 0
	}
	return m.sample.WorkersTotal
}

// RampProgress returns the worker start progress (0.0 to 1.0).
func (m Model) RampProgress() float64 {
	if m.WorkersTotal() == 0 {
		return 0
	}
	return float64(m.WorkersStarted()) / float64(m.WorkersTotal())
}

// ActiveBuffer returns the on-screen buffer in seconds.
func (m Model) ActiveBuffer() float64 {
	if m.sample == nil {
		return 0
	}
	snap := m.sample.Snapshot
	return snap.Buffers[snap.ActiveBase]
}

// RebufferingRatio returns stall time over elapsed time so far.
func (m Model) RebufferingRatio() float64 {
	if m.sample == nil {
		return 0
	}
	secs := m.sample.Snapshot.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return m.sample.Snapshot.StallTime / secs
}

// RecentChunks returns the retained chunk events, oldest first.
func (m Model) RecentChunks() []orchestrator.ChunkEvent {
	out := make([]orchestrator.ChunkEvent, 0, m.chunks.Len())
	for i := 0; i < m.chunks.Len(); i++ {
		out = append(out, m.chunks.At(i))
	}
	return out
}

// Done reports whether the replay has finished.
func (m Model) Done() bool {
	return m.done
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendSample sends a sampler tick to the TUI.
func SendSample(p *tea.Program, s orchestrator.Sample) {
	if p != nil {
		p.Send(SampleMsg{Sample: s})
	}
}

// SendChunk sends a chunk event to the TUI.
func SendChunk(p *tea.Program, ev orchestrator.ChunkEvent) {
	if p != nil {
		p.Send(ChunkMsg{Event: ev})
	}
}

// SendDone marks the replay finished.
func SendDone(p *tea.Program) {
	if p != nil {
		p.Send(DoneMsg{})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatBytes formats bytes with SI suffixes.
func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// formatMbps formats a rate in Mbps.
func formatMbps(mbps float64) string {
	if mbps >= 100 {
		return fmt.Sprintf("%.0f Mbps", mbps)
	}
	return fmt.Sprintf("%.2f Mbps", mbps)
}

// formatBitrate appends the ladder label when mbps is a known rung.
func formatBitrate(mbps float64) string {
	if label := abr.DefaultLadder.Label(mbps); label != "" {
		return fmt.Sprintf("%s (%s)", formatMbps(mbps), label)
	}
	return formatMbps(mbps)
}

// formatMs formats a duration as milliseconds.
func formatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// formatPercent formats a ratio as a percentage.
func formatPercent(value float64) string {
	return fmt.Sprintf("%.2f%%", value*100)
}
