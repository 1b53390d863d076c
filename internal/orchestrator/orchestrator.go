package orchestrator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/frostbyte73/core"
	"golang.org/x/sync/errgroup"

	"github.com/randomizedcoder/go-abr-replay/internal/abr"
	"github.com/randomizedcoder/go-abr-replay/internal/config"
	"github.com/randomizedcoder/go-abr-replay/internal/estimator"
	"github.com/randomizedcoder/go-abr-replay/internal/logging"
	"github.com/randomizedcoder/go-abr-replay/internal/playback"
	"github.com/randomizedcoder/go-abr-replay/internal/schedule"
	"github.com/randomizedcoder/go-abr-replay/internal/stats"
	"github.com/randomizedcoder/go-abr-replay/internal/timeseries"
	"github.com/randomizedcoder/go-abr-replay/internal/transfer"
)

// Sample is one periodic view of a running replay.
type Sample struct {
	Snapshot       playback.Snapshot
	Rates          timeseries.Rates
	WorkersRunning int
	WorkersTotal   int
	WorkersStarted int
	Failures       int
}

// Callbacks receive run events. Any of them may be nil. They are called from
// worker and sampler goroutines and must not block.
type Callbacks struct {
	OnSample     func(Sample)
	OnChunk      func(ChunkEvent)
	OnWorkerExit func(streamID string, reason ExitReason)
}

// Orchestrator coordinates one replay run.
type Orchestrator struct {
	config    *config.Config
	schedule  *schedule.Schedule
	logger    *slog.Logger
	callbacks Callbacks

	fetcher  Fetcher
	stagger  *Stagger
	gate     Gate
	policy   abr.Policy
	estCfg   estimator.Config
	tracker  *timeseries.ThroughputTracker
	failures *logging.FailureLog
	peers    []string

	running atomic.Int32
	started atomic.Int32
}

// New creates an Orchestrator for sched using the client settings in cfg.
func New(cfg *config.Config, sched *schedule.Schedule, logger *slog.Logger, cb Callbacks) *Orchestrator {
	policy := abr.DefaultPolicy()
	policy.PanicThreshold = cfg.PanicThreshold

	estCfg := estimator.DefaultConfig()
	estCfg.WindowLen = cfg.WindowLen
	estCfg.Initial = cfg.InitialEstimate

	return &Orchestrator{
		config:    cfg,
		schedule:  sched,
		logger:    logger,
		callbacks: cb,
		fetcher: &transfer.Fetcher{
			DialTimeout: cfg.DialTimeout,
			ReadTimeout: cfg.ReadTimeout,
			ReadChunk:   cfg.ReadChunk,
		},
		stagger: NewStagger(cfg.Stagger, cfg.StaggerJitter),
		gate: Gate{
			MaxBufferActive: cfg.MaxBufferActive,
			PrefetchTarget:  cfg.PrefetchTarget,
		},
		policy:   policy,
		estCfg:   estCfg,
		tracker:  timeseries.NewThroughputTracker(),
		failures: logging.NewFailureLog(logger, cfg.Verbose),
		peers:    cfg.PeerAddrs(),
	}
}

// SetFetcher replaces the transfer client. Must be called before Run.
func (o *Orchestrator) SetFetcher(f Fetcher) {
	o.fetcher = f
}

// Failures returns the transfer failure log.
func (o *Orchestrator) Failures() *logging.FailureLog {
	return o.failures
}

// Run replays the schedule and returns the report. It blocks until every
// worker has finished. Cancelling ctx stops the workers early; the report
// then covers the partial run.
func (o *Orchestrator) Run(ctx context.Context) (stats.Report, error) {
	start := time.Now()
	state := playback.NewState(playback.Config{
		Order:     o.schedule.Order,
		StartSec:  o.schedule.StartSec,
		Estimator: o.estCfg,
	}, start)

	o.logger.Info("replay_starting",
		"plans", len(o.schedule.Plans),
		"streams", len(o.schedule.Order),
		"chunks", o.schedule.ChunkCount(),
		"peers", len(o.peers),
		"mode", string(o.schedule.Mode()),
		"estimated_ramp", o.stagger.EstimatedDuration(len(o.schedule.Plans)).String(),
	)

	// Sidecars: playback clock and sampler.
	clock := playback.NewClock(state, o.config.TickInterval, o.logger)
	var samplerStop core.Fuse
	var sidecars errgroup.Group
	sidecars.Go(func() error {
		clock.Run()
		return nil
	})
	sidecars.Go(func() error {
		o.sample(state, &samplerStop)
		return nil
	})

	// Workers
	workers, wctx := errgroup.WithContext(ctx)
	for i, plan := range o.schedule.Plans {
		w := o.newWorker(plan, state)
		o.running.Add(1)
		o.started.Add(1)
		workers.Go(func() error {
			defer o.running.Add(-1)
			reason := w.Run(wctx)
			w.logger.Debug("worker_exit", "reason", string(reason))
			if o.callbacks.OnWorkerExit != nil {
				o.callbacks.OnWorkerExit(w.plan.StreamID, reason)
			}
			return nil
		})

		if err := o.stagger.Wait(ctx, i); err != nil {
			o.logger.Info("ramp_cancelled", "started", i+1, "target", len(o.schedule.Plans))
			break
		}
	}

	_ = workers.Wait()
	end := time.Now()

	if ctx.Err() != nil {
		o.logger.Warn("replay_interrupted", "elapsed", end.Sub(start).String())
	}

	// Stop the clock, then release anything still waiting on the state.
	if !clock.Stop(o.config.StopGrace) {
		o.logger.Warn("playback_clock_still_running")
	}
	state.Stop()
	samplerStop.Break()
	_ = sidecars.Wait()

	o.emitSample(state, end)

	report := stats.Aggregate(state.Record(end), o.failures.CountErrors())
	o.logger.Info("replay_complete",
		"duration", report.Duration().String(),
		"total_bytes", report.TotalBytes,
		"chunks_completed", report.ChunksCompleted,
		"chunks_failed", report.ChunksFailed,
		"rebuffering_ratio", report.RebufferingRatio,
	)
	return report, nil
}

func (o *Orchestrator) newWorker(plan schedule.StreamPlan, state *playback.State) *Worker {
	base := o.schedule.BaseOf(plan.StreamID)
	index := state.IndexOf(base)

	var peer string
	if len(o.peers) > 0 {
		peer = o.peers[schedule.PeerIndex(schedule.BaseID(plan.StreamID), len(o.peers))]
	}

	return &Worker{
		plan:     plan,
		base:     base,
		index:    index,
		peer:     peer,
		state:    state,
		gate:     o.gate,
		policy:   o.policy,
		fetcher:  o.fetcher,
		tracker:  o.tracker,
		failures: o.failures,
		onChunk:  o.callbacks.OnChunk,
		logger:   logging.ForStream(o.logger, plan.StreamID, base, index, peer),
	}
}

// sample feeds OnSample until stop is broken.
func (o *Orchestrator) sample(state *playback.State, stop *core.Fuse) {
	interval := o.config.SampleInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop.Watch():
			return
		case now := <-ticker.C:
			o.emitSample(state, now)
		}
	}
}

func (o *Orchestrator) emitSample(state *playback.State, now time.Time) {
	o.tracker.RecordSample()
	if o.callbacks.OnSample == nil {
		return
	}
	o.callbacks.OnSample(Sample{
		Snapshot:       state.Snapshot(now),
		Rates:          o.tracker.GetRates(),
		WorkersRunning: int(o.running.Load()),
		WorkersTotal:   len(o.schedule.Plans),
		WorkersStarted: int(o.started.Load()),
		Failures:       o.failures.Total(),
	})
}
