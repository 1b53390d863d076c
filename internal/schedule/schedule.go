// Package schedule loads the multi-stream viewing schedule replayed by the client.
//
// A schedule is a JSON array of stream plans. Each plan names a stream
// ("<base_id>[_suffix]"), the wall-clock offset at which its logical video
// becomes active, and an ordered list of events. Only "download" events are
// consumed; everything else belongs to the schedule generator.
package schedule

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ActionDownload is the only event action the replay engine consumes.
const ActionDownload = "download"

// unorderedKey is the play-order key for base ids that are not numeric.
const unorderedKey = 9999

// Mode selects how stream ids group into logical videos for buffer accounting.
type Mode string

const (
	// ModeShort treats every distinct base id as its own swipeable video.
	ModeShort Mode = "short"

	// ModeLong treats every plan as a fragment of a single long-form video.
	ModeLong Mode = "long"
)

// ChunkEvent is one entry of a plan's event list.
type ChunkEvent struct {
	Action           string  `json:"action"`
	TimestampSec     float64 `json:"timestamp_sec"`
	VideoDurationSec float64 `json:"video_duration_sec"`
	IsBackground     bool    `json:"is_background"`
	SizeMB           float64 `json:"size_mb"`
}

// StreamPlan is a single schedule entry. Fragments of one logical video share
// a base id.
type StreamPlan struct {
	StreamID         string       `json:"stream_id"`
	PlaybackStartSec float64      `json:"playback_start_sec"`
	Events           []ChunkEvent `json:"events"`
}

// rawPlan tolerates numeric stream ids, which the generator emits for some traces.
type rawPlan struct {
	StreamID         json.RawMessage   `json:"stream_id"`
	PlaybackStartSec float64           `json:"playback_start_sec"`
	Events           []json.RawMessage `json:"events"`
}

// Schedule is the read-only replay input after parsing and ordering.
type Schedule struct {
	// Plans in play order (stable sort on numeric base id).
	Plans []StreamPlan

	// Order lists unique base ids in play order.
	Order []string

	// StartSec maps base id to its playback_start_sec (first plan wins).
	StartSec map[string]float64

	// Skipped counts malformed chunk events that were dropped while parsing.
	Skipped int

	mode Mode
}

// Load reads and parses a schedule document from disk.
// This is the only run-fatal failure of the client role.
func Load(path string, mode Mode, logger *slog.Logger) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schedule: %w", err)
	}
	return Parse(data, mode, logger)
}

// Parse decodes a schedule document. Malformed chunk events (non-positive or
// non-finite duration, undecodable fields) are skipped individually and logged.
func Parse(data []byte, mode Mode, logger *slog.Logger) (*Schedule, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var raws []rawPlan
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decoding schedule: %w", err)
	}

	s := &Schedule{
		Plans:    make([]StreamPlan, 0, len(raws)),
		StartSec: make(map[string]float64),
		mode:     mode,
	}

	for i, raw := range raws {
		plan := StreamPlan{
			StreamID:         decodeStreamID(raw.StreamID),
			PlaybackStartSec: math.Max(0, raw.PlaybackStartSec),
		}
		for j, rawEvent := range raw.Events {
			var ev ChunkEvent
			if err := json.Unmarshal(rawEvent, &ev); err != nil {
				s.Skipped++
				logger.Warn("chunk_skipped", "plan", i, "event", j, "reason", "undecodable", "error", err)
				continue
			}
			if ev.Action != ActionDownload {
				continue
			}
			if ev.VideoDurationSec <= 0 || math.IsNaN(ev.VideoDurationSec) || math.IsInf(ev.VideoDurationSec, 0) {
				s.Skipped++
				logger.Warn("chunk_skipped",
					"stream_id", plan.StreamID,
					"event", j,
					"reason", "non_positive_duration",
					"video_duration_sec", ev.VideoDurationSec,
				)
				continue
			}
			plan.Events = append(plan.Events, ev)
		}
		s.Plans = append(s.Plans, plan)
	}

	s.order()
	return s, nil
}

// decodeStreamID accepts both "3_1" and 3.
func decodeStreamID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "0"
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	return "0"
}

// order sorts plans into play order and builds the base id index.
func (s *Schedule) order() {
	sort.SliceStable(s.Plans, func(i, j int) bool {
		return SortKey(BaseID(s.Plans[i].StreamID)) < SortKey(BaseID(s.Plans[j].StreamID))
	})

	seen := make(map[string]bool)
	for _, p := range s.Plans {
		base := s.BaseOf(p.StreamID)
		if seen[base] {
			continue
		}
		seen[base] = true
		s.Order = append(s.Order, base)
		s.StartSec[base] = p.PlaybackStartSec
	}
}

// BaseOf returns the logical video a stream id belongs to under the schedule's mode.
func (s *Schedule) BaseOf(streamID string) string {
	if s.mode == ModeLong && len(s.Plans) > 0 {
		return BaseID(s.Plans[0].StreamID)
	}
	return BaseID(streamID)
}

// Mode returns the grouping mode the schedule was parsed with.
func (s *Schedule) Mode() Mode {
	return s.mode
}

// ChunkCount returns the number of download events across all plans.
func (s *Schedule) ChunkCount() int {
	n := 0
	for _, p := range s.Plans {
		n += len(p.Events)
	}
	return n
}

// BaseID strips the fragment suffix from a stream id.
func BaseID(streamID string) string {
	base, _, _ := strings.Cut(streamID, "_")
	return base
}

// SortKey is the numeric play-order key of a base id.
func SortKey(base string) int {
	n, err := strconv.Atoi(base)
	if err != nil {
		return unorderedKey
	}
	return n
}

// PeerIndex picks which peer serves a base id out of n peers.
func PeerIndex(base string, n int) int {
	if n <= 0 {
		return 0
	}
	idx, err := strconv.Atoi(base)
	if err != nil || idx < 0 {
		return 0
	}
	return idx % n
}
