package tui

import (
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-abr-replay/internal/abr"
	"github.com/randomizedcoder/go-abr-replay/internal/orchestrator"
	"github.com/randomizedcoder/go-abr-replay/internal/playback"
	"github.com/randomizedcoder/go-abr-replay/internal/timeseries"
)

// =============================================================================
// Fixtures
// =============================================================================

func testConfig() Config {
	return Config{
		SchedulePath:    "session.json",
		Mode:            "short",
		Peers:           []string{"10.0.0.2:5001", "10.0.0.3:5001"},
		MetricsAddr:     "localhost:17091",
		MaxBufferActive: 20,
		PanicThreshold:  5,
	}
}

func testSample() orchestrator.Sample {
	return orchestrator.Sample{
		Snapshot: playback.Snapshot{
			Elapsed:     20 * time.Second,
			ActiveIndex: 1,
			ActiveBase:  "2",
			Streams:     3,
			Buffers:     map[string]float64{"1": 0, "2": 12, "3": 4},
			StallTime:   0.5,
			Estimate:    3.1,
			LastBitrate: 2.5,
			TotalBytes:  12_000_000,
			Completed:   14,
			Failed:      1,
			Aborted:     2,
			Swiped:      1,
		},
		Rates:          timeseries.Rates{Last1s: 4.2, Last30s: 3.8},
		WorkersRunning: 2,
		WorkersTotal:   4,
		WorkersStarted: 4,
		Failures:       1,
	}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// =============================================================================
// Tests: New
// =============================================================================

func TestNew(t *testing.T) {
	model := New(testConfig())

	if model.schedulePath != "session.json" {
		t.Errorf("schedulePath = %s, want session.json", model.schedulePath)
	}
	if model.metricsAddr != "localhost:17091" {
		t.Errorf("metricsAddr = %s, want localhost:17091", model.metricsAddr)
	}
	if model.width != 80 {
		t.Errorf("width = %d, want 80", model.width)
	}
	if model.height != 24 {
		t.Errorf("height = %d, want 24", model.height)
	}
	if model.chunks == nil || model.chunks.Len() != 0 {
		t.Error("chunk buffer should start empty")
	}
}

func TestModel_Init(t *testing.T) {
	if cmd := New(testConfig()).Init(); cmd == nil {
		t.Error("Init() returned nil cmd")
	}
}

// =============================================================================
// Tests: Update - Key Messages
// =============================================================================

func TestModel_Update_QuitKeys(t *testing.T) {
	tests := []struct {
		key      string
		wantQuit bool
	}{
		{"q", true},
		{"ctrl+c", true},
		{"esc", true},
		{"d", false},
		{"r", false},
		{"x", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			msg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(tt.key)}
			if tt.key == "ctrl+c" {
				msg = tea.KeyMsg{Type: tea.KeyCtrlC}
			} else if tt.key == "esc" {
				msg = tea.KeyMsg{Type: tea.KeyEsc}
			}

			m, cmd := update(t, New(testConfig()), msg)

			if m.quitting != tt.wantQuit {
				t.Errorf("quitting = %v, want %v", m.quitting, tt.wantQuit)
			}
			if tt.wantQuit && cmd == nil {
				t.Error("expected tea.Quit cmd")
			}
		})
	}
}

func TestModel_Update_ToggleDetailedView(t *testing.T) {
	model := New(testConfig())
	msg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")}

	m, _ := update(t, model, msg)
	if !m.detailedView {
		t.Error("detailedView should be true after pressing 'd'")
	}

	m, _ = update(t, m, msg)
	if m.detailedView {
		t.Error("detailedView should be false after pressing 'd' again")
	}
}

func TestModel_Update_WindowSize(t *testing.T) {
	m, _ := update(t, New(testConfig()), tea.WindowSizeMsg{Width: 120, Height: 40})

	if m.width != 120 {
		t.Errorf("width = %d, want 120", m.width)
	}
	if m.height != 40 {
		t.Errorf("height = %d, want 40", m.height)
	}
}

func TestModel_Update_Tick(t *testing.T) {
	_, cmd := update(t, New(testConfig()), TickMsg(time.Now()))
	if cmd == nil {
		t.Error("expected tick cmd to be returned")
	}
}

// =============================================================================
// Tests: Update - Replay Messages
// =============================================================================

func TestModel_Update_SampleMsg(t *testing.T) {
	m, _ := update(t, New(testConfig()), SampleMsg{Sample: testSample()})

	if m.sample == nil {
		t.Fatal("sample should be set")
	}
	if got := m.ActiveBuffer(); got != 12 {
		t.Errorf("ActiveBuffer() = %v, want 12", got)
	}
	if got := m.RampProgress(); got != 1.0 {
		t.Errorf("RampProgress() = %v, want 1", got)
	}
	if got := m.RebufferingRatio(); got != 0.025 {
		t.Errorf("RebufferingRatio() = %v, want 0.025", got)
	}
	if got := m.Elapsed(); got != 20*time.Second {
		t.Errorf("Elapsed() = %v, want 20s", got)
	}
}

func TestModel_Update_ChunkMsg_KeepsRecent(t *testing.T) {
	m := New(testConfig())
	for i := 0; i < recentChunks+3; i++ {
		m, _ = update(t, m, ChunkMsg{Event: orchestrator.ChunkEvent{StreamID: fmt.Sprint(i)}})
	}

	got := m.RecentChunks()
	if len(got) != recentChunks {
		t.Fatalf("len(RecentChunks()) = %d, want %d", len(got), recentChunks)
	}
	if got[0].StreamID != "3" {
		t.Errorf("oldest retained = %s, want 3", got[0].StreamID)
	}
	if got[len(got)-1].StreamID != fmt.Sprint(recentChunks+2) {
		t.Errorf("newest = %s", got[len(got)-1].StreamID)
	}
}

func TestModel_Update_DoneAndQuit(t *testing.T) {
	m, cmd := update(t, New(testConfig()), DoneMsg{})
	if !m.Done() {
		t.Error("Done() should be true")
	}
	if cmd != nil {
		t.Error("DoneMsg should not quit")
	}

	m, cmd = update(t, m, QuitMsg{})
	if !m.quitting {
		t.Error("quitting should be true")
	}
	if cmd == nil {
		t.Error("expected tea.Quit cmd")
	}
}

// =============================================================================
// Tests: Accessors without data
// =============================================================================

func TestModel_AccessorsEmpty(t *testing.T) {
	m := New(testConfig())

	if m.WorkersStarted() != 0 || m.WorkersTotal() != 0 {
		t.Error("worker counts should be zero without a sample")
	}
	if m.RampProgress() != 0 {
		t.Error("RampProgress() should be zero without a sample")
	}
	if m.ActiveBuffer() != 0 || m.RebufferingRatio() != 0 {
		t.Error("buffer accessors should be zero without a sample")
	}
	if len(m.RecentChunks()) != 0 {
		t.Error("no chunks expected")
	}
}

// =============================================================================
// Tests: View
// =============================================================================

func TestModel_View_Quitting(t *testing.T) {
	m := New(testConfig())
	m.quitting = true
	if got := m.View(); got != "" {
		t.Errorf("View() while quitting = %q, want empty", got)
	}
}

func TestModel_View_Starting(t *testing.T) {
	view := New(testConfig()).View()

	for _, want := range []string{"abr-replay", "Starting", "Workers", "q: quit"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if strings.Contains(view, "Playback") {
		t.Error("playback section should wait for the first sample")
	}
}

func TestModel_View_WithSample(t *testing.T) {
	m := New(testConfig())
	m.width = 140
	m, _ = update(t, m, SampleMsg{Sample: testSample()})
	m, _ = update(t, m, ChunkMsg{Event: orchestrator.ChunkEvent{
		StreamID:  "2",
		Rung:      abr.Rung{Mbps: 2.5, Label: "720p"},
		Active:    true,
		Requested: 625_000,
		Received:  625_000,
		Elapsed:   120 * time.Millisecond,
	}})
	m, _ = update(t, m, ChunkMsg{Event: orchestrator.ChunkEvent{
		StreamID:  "3",
		Rung:      abr.Rung{Mbps: 0.5, Label: "240p"},
		Requested: 125_000,
	}})

	view := m.View()

	for _, want := range []string{
		"Video: 2/3",
		"Playing",
		"Playback",
		"video 2",
		"3.10 Mbps",
		"2.50 Mbps (720p)",
		"Transfers",
		"12 MB",
		"Recent Chunks",
		"720p",
		"failed",
		"session.json (short)",
		"2 peers",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModel_View_Detailed(t *testing.T) {
	m := New(testConfig())
	m.width = 120
	m, _ = update(t, m, SampleMsg{Sample: testSample()})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})

	view := m.View()
	if !strings.Contains(view, "Buffered Videos") {
		t.Error("detailed view missing table")
	}
	if !strings.Contains(view, "▶ 2") {
		t.Fatal("detailed view should mark the on-screen video")
	}

	first := strings.Index(view, "│ 1 ")
	active := strings.Index(view, "│ ▶ 2")
	last := strings.Index(view, "│ 3 ")
	if first < 0 || last < 0 {
		t.Fatalf("missing video rows:\n%s", view)
	}
	if !(first < active && active < last) {
		t.Error("videos should be listed in play order")
	}
}

func TestModel_View_Done(t *testing.T) {
	m, _ := update(t, New(testConfig()), SampleMsg{Sample: testSample()})
	m, _ = update(t, m, DoneMsg{})

	view := m.View()
	if !strings.Contains(view, "Complete") {
		t.Error("header should show completion")
	}
	if !strings.Contains(view, "All workers finished") {
		t.Error("progress should show completion")
	}
}

// =============================================================================
// Tests: Formatting
// =============================================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{90 * time.Second, "00:01:30"},
		{time.Hour + time.Second, "01:00:01"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatMbps(t *testing.T) {
	tests := []struct {
		mbps float64
		want string
	}{
		{0, "0.00 Mbps"},
		{2.5, "2.50 Mbps"},
		{250, "250 Mbps"},
	}
	for _, tt := range tests {
		if got := formatMbps(tt.mbps); got != tt.want {
			t.Errorf("formatMbps(%v) = %q, want %q", tt.mbps, got, tt.want)
		}
	}
}

func TestFormatBitrate(t *testing.T) {
	tests := []struct {
		mbps float64
		want string
	}{
		{0, "0.00 Mbps"},
		{0.5, "0.50 Mbps (240p)"},
		{5, "5.00 Mbps (1080p)"},
		{3, "3.00 Mbps"},
	}
	for _, tt := range tests {
		if got := formatBitrate(tt.mbps); got != tt.want {
			t.Errorf("formatBitrate(%v) = %q, want %q", tt.mbps, got, tt.want)
		}
	}
}

func TestFormatMs(t *testing.T) {
	if got := formatMs(120 * time.Millisecond); got != "120 ms" {
		t.Errorf("formatMs(120ms) = %q", got)
	}
	if got := formatMs(300 * time.Microsecond); got != "300 µs" {
		t.Errorf("formatMs(300µs) = %q", got)
	}
}
