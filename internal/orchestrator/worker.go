package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/randomizedcoder/go-abr-replay/internal/abr"
	"github.com/randomizedcoder/go-abr-replay/internal/logging"
	"github.com/randomizedcoder/go-abr-replay/internal/playback"
	"github.com/randomizedcoder/go-abr-replay/internal/schedule"
	"github.com/randomizedcoder/go-abr-replay/internal/timeseries"
	"github.com/randomizedcoder/go-abr-replay/internal/transfer"
)

// Fetcher performs one transfer exchange.
type Fetcher interface {
	Fetch(ctx context.Context, addr string, size int64) transfer.Result
}

// ExitReason says why a worker stopped.
type ExitReason string

const (
	// ExitFinished means the worker ran out of chunks.
	ExitFinished ExitReason = "finished"

	// ExitSwiped means the viewer moved past the worker's video while it waited.
	ExitSwiped ExitReason = "swiped"

	// ExitAborted means the viewer moved past mid-transfer.
	ExitAborted ExitReason = "aborted"

	// ExitStopped means the run was stopped.
	ExitStopped ExitReason = "stopped"
)

// Gate decides when a worker may start its next chunk.
type Gate struct {
	// MaxBufferActive is the buffer ceiling (s) for the on-screen video.
	MaxBufferActive float64

	// PrefetchTarget is the buffer ceiling (s) for background chunks of the
	// video right after the on-screen one.
	PrefetchTarget float64
}

// Ready reports whether a chunk may proceed for the given view.
func (g Gate) Ready(v playback.StreamView, background bool) bool {
	switch {
	case v.Active():
		return v.Buffer < g.MaxBufferActive
	case v.Index == v.ActiveIndex+1 && background:
		return v.Buffer < g.PrefetchTarget
	}
	return false
}

// ChunkEvent describes one finished chunk attempt.
type ChunkEvent struct {
	StreamID       string
	BaseID         string
	Rung           abr.Rung
	Active         bool
	Background     bool
	Requested      int64
	Received       int64
	Elapsed        time.Duration
	ThroughputMbps float64
	Aborted        bool
	Err            error
}

// Worker downloads the chunks of one schedule entry.
type Worker struct {
	plan  schedule.StreamPlan
	base  string
	index int
	peer  string

	state    *playback.State
	gate     Gate
	policy   abr.Policy
	fetcher  Fetcher
	tracker  *timeseries.ThroughputTracker
	failures *logging.FailureLog
	onChunk  func(ChunkEvent)
	logger   *slog.Logger
}

// Run processes the plan's chunks in order and returns why it stopped.
// Transport errors never escape; they are recorded and the worker moves on.
func (w *Worker) Run(ctx context.Context) ExitReason {
	for n, ev := range w.plan.Events {
		bg := ev.IsBackground

		// Gate
		v, err := w.state.WaitUntil(ctx, w.index, w.base, func(v playback.StreamView) bool {
			return v.Behind() || w.gate.Ready(v, bg)
		})
		if err != nil || v.Stopped {
			return ExitStopped
		}
		if v.Behind() {
			w.state.RecordSwipe()
			w.logger.Debug("worker_swiped", "chunk", n, "active_index", v.ActiveIndex)
			return ExitSwiped
		}

		// Decide
		v = w.state.View(w.index, w.base)
		rung := w.policy.Decide(abr.Input{
			Active:       v.Active(),
			OwnBuffer:    v.Buffer,
			ActiveBuffer: v.ActiveBuffer,
			Estimate:     v.Estimate,
		})
		size := int64(ev.VideoDurationSec * rung.Mbps * 1e6 / 8)

		// Transfer
		res := w.fetch(ctx, size)
		event := ChunkEvent{
			StreamID:   w.plan.StreamID,
			BaseID:     w.base,
			Rung:       rung,
			Active:     v.Active(),
			Background: bg,
			Requested:  size,
			Received:   res.Received,
			Elapsed:    res.Elapsed,
			Aborted:    res.Aborted(),
			Err:        res.Err,
		}

		if res.Aborted() {
			w.emit(event)
			if ctx.Err() != nil {
				return ExitStopped
			}
			w.state.RecordAbort()
			w.logger.Debug("transfer_aborted",
				"chunk", n,
				"recvd", res.Received,
				"expected", size,
			)
			return ExitAborted
		}
		if res.Err != nil {
			w.failures.Record(w.plan.StreamID, w.peer, res.Err)
		}

		// Update
		w.tracker.AddBytes(res.Received)
		event.ThroughputMbps = w.state.Complete(playback.Chunk{
			StreamID:    w.plan.StreamID,
			BaseID:      w.base,
			DurationSec: ev.VideoDurationSec,
			BitrateMbps: rung.Mbps,
			Expected:    size,
			Received:    res.Received,
			Elapsed:     res.Elapsed,
			At:          time.Now(),
		})
		w.emit(event)

		if res.Received == 0 {
			w.logger.Debug("chunk_empty", "chunk", n, "expected", size)
			continue
		}
		w.logger.Debug("chunk_complete",
			"chunk", n,
			"bitrate_mbps", rung.Mbps,
			"quality", rung.Label,
			"recvd", res.Received,
			"expected", size,
			"throughput_mbps", event.ThroughputMbps,
		)
	}
	return ExitFinished
}

// fetch runs one transfer that is cancelled as soon as the viewer swipes
// past this worker's video.
func (w *Worker) fetch(ctx context.Context, size int64) transfer.Result {
	tctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unwatch := w.state.Watch(w.index, cancel)
	defer unwatch()

	return w.fetcher.Fetch(tctx, w.peer, size)
}

func (w *Worker) emit(ev ChunkEvent) {
	if w.onChunk != nil {
		w.onChunk(ev)
	}
}
