// Package metrics provides Prometheus metrics for abr-replay.
//
// The collector is fed from two places: the periodic sampler (buffer levels,
// estimate, stall time, worker counts) and the per-chunk callback (bytes,
// chunk results, transfer timing). All metrics live on the collector so a
// run can use its own registry.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-abr-replay/internal/playback"
)

const namespace = "abr_replay"

// Chunk results.
const (
	ResultComplete = "complete"
	ResultPartial  = "partial"
	ResultFailed   = "failed"
	ResultAborted  = "aborted"
)

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	SchedulePath string
	Mode         string
	Plans        int
	Streams      int
}

// SampleUpdate is one sampler tick.
type SampleUpdate struct {
	Snapshot       playback.Snapshot
	WorkersRunning int
	WorkersTotal   int
	ThroughputMbps float64

	// TransferErrors holds cumulative failure counts by class.
	TransferErrors map[string]int
}

// ChunkUpdate is one finished chunk attempt.
type ChunkUpdate struct {
	Quality        string
	Requested      int64
	Received       int64
	Elapsed        time.Duration
	ThroughputMbps float64
	Aborted        bool
}

// Result classifies the attempt.
func (u ChunkUpdate) Result() string {
	switch {
	case u.Aborted:
		return ResultAborted
	case u.Received <= 0:
		return ResultFailed
	case u.Received < u.Requested:
		return ResultPartial
	}
	return ResultComplete
}

// Collector manages the Prometheus metrics of one replay run.
type Collector struct {
	info           *prometheus.GaugeVec
	plans          prometheus.Gauge
	streams        prometheus.Gauge
	workersRunning prometheus.Gauge
	elapsedSeconds prometheus.Gauge

	// Playback
	activeIndex    prometheus.Gauge
	activeBuffer   prometheus.Gauge
	streamBuffer   *prometheus.GaugeVec
	stallSeconds   prometheus.Gauge
	rebufferRatio  prometheus.Gauge
	estimateMbps   prometheus.Gauge
	lastBitrate    prometheus.Gauge
	throughputMbps prometheus.Gauge

	// Transfers
	bytesTotal       prometheus.Counter
	chunksTotal      *prometheus.CounterVec
	qualityTotal     *prometheus.CounterVec
	transferSeconds  prometheus.Histogram
	chunkThroughput  prometheus.Histogram
	swipesTotal      prometheus.Counter
	transferErrors   *prometheus.CounterVec
	estimatorUpdates prometheus.Gauge

	mu         sync.Mutex
	prevSwiped int
	prevErrors map[string]int
	peakBuffer float64
}

// NewCollector creates a collector registered on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the replay run (value always 1)",
		}, []string{"schedule", "mode"}),
		plans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plans",
			Help:      "Schedule entries in the run (one worker each)",
		}),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams",
			Help:      "Logical videos in play order",
		}),
		workersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_running",
			Help:      "Stream workers still running",
		}),
		elapsedSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "elapsed_seconds",
			Help:      "Seconds since the replay started",
		}),

		activeIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_stream_index",
			Help:      "Play-order position of the on-screen video",
		}),
		activeBuffer: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_buffer_seconds",
			Help:      "Buffered playback seconds of the on-screen video",
		}),
		streamBuffer: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_buffer_seconds",
			Help:      "Buffered playback seconds per video",
		}, []string{"base_id"}),
		stallSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stall_seconds",
			Help:      "Cumulative time the on-screen video had an empty buffer",
		}),
		rebufferRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rebuffering_ratio",
			Help:      "Stall seconds over elapsed seconds",
		}),
		estimateMbps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bandwidth_estimate_mbps",
			Help:      "Current shared bandwidth estimate",
		}),
		lastBitrate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "selected_bitrate_mbps",
			Help:      "Bitrate of the most recent completed chunk",
		}),
		throughputMbps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "throughput_mbps",
			Help:      "Aggregate download rate over the last second",
		}),

		bytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Payload bytes received from peers",
		}),
		chunksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chunk attempts by result",
		}, []string{"result"}),
		qualityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_quality_total",
			Help:      "Chunks requested by ladder rung",
		}, []string{"quality"}),
		transferSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_seconds",
			Help:      "Wall time of one chunk transfer",
			Buckets: []float64{
				0.005, 0.01, 0.025, 0.05, 0.1,
				0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
			},
		}),
		chunkThroughput: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_throughput_mbps",
			Help:      "Per-chunk throughput samples fed to the estimator",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 8, 12, 25, 50, 100, 250},
		}),
		swipesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workers_swiped_total",
			Help:      "Workers that stopped because the viewer moved past their video",
		}),
		transferErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_errors_total",
			Help:      "Failed or partial transfers by class",
		}, []string{"class"}),
		estimatorUpdates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "estimator_updates",
			Help:      "Throughput samples applied to the estimator",
		}),
		prevErrors: make(map[string]int),
	}

	registry.MustRegister(
		c.info,
		c.plans,
		c.streams,
		c.workersRunning,
		c.elapsedSeconds,

		c.activeIndex,
		c.activeBuffer,
		c.streamBuffer,
		c.stallSeconds,
		c.rebufferRatio,
		c.estimateMbps,
		c.lastBitrate,
		c.throughputMbps,

		c.bytesTotal,
		c.chunksTotal,
		c.qualityTotal,
		c.transferSeconds,
		c.chunkThroughput,
		c.swipesTotal,
		c.transferErrors,
		c.estimatorUpdates,
	)

	c.info.WithLabelValues(cfg.SchedulePath, cfg.Mode).Set(1)
	c.plans.Set(float64(cfg.Plans))
	c.streams.Set(float64(cfg.Streams))

	return c
}

// RecordSample updates the gauges from one sampler tick. Cumulative counts
// in the snapshot are turned into counter deltas.
func (c *Collector) RecordSample(u SampleUpdate) {
	snap := u.Snapshot

	c.workersRunning.Set(float64(u.WorkersRunning))
	c.elapsedSeconds.Set(snap.Elapsed.Seconds())

	c.activeIndex.Set(float64(snap.ActiveIndex))
	c.activeBuffer.Set(snap.Buffers[snap.ActiveBase])
	for base, buf := range snap.Buffers {
		c.streamBuffer.WithLabelValues(base).Set(buf)
	}
	c.stallSeconds.Set(snap.StallTime)
	if secs := snap.Elapsed.Seconds(); secs > 0 {
		c.rebufferRatio.Set(snap.StallTime / secs)
	}
	c.estimateMbps.Set(snap.Estimate)
	c.lastBitrate.Set(snap.LastBitrate)
	c.throughputMbps.Set(u.ThroughputMbps)
	c.estimatorUpdates.Set(float64(snap.EstimatorRun))

	c.mu.Lock()
	defer c.mu.Unlock()

	if delta := snap.Swiped - c.prevSwiped; delta > 0 {
		c.swipesTotal.Add(float64(delta))
	}
	c.prevSwiped = snap.Swiped

	for class, count := range u.TransferErrors {
		if delta := count - c.prevErrors[class]; delta > 0 {
			c.transferErrors.WithLabelValues(class).Add(float64(delta))
		}
		c.prevErrors[class] = count
	}

	if buf := snap.Buffers[snap.ActiveBase]; buf > c.peakBuffer {
		c.peakBuffer = buf
	}
}

// RecordChunk records one finished chunk attempt.
func (c *Collector) RecordChunk(u ChunkUpdate) {
	c.chunksTotal.WithLabelValues(u.Result()).Inc()
	if u.Quality != "" {
		c.qualityTotal.WithLabelValues(u.Quality).Inc()
	}
	if u.Aborted {
		return
	}
	if u.Received > 0 {
		c.bytesTotal.Add(float64(u.Received))
		c.chunkThroughput.Observe(u.ThroughputMbps)
	}
	c.transferSeconds.Observe(u.Elapsed.Seconds())
}

// PeakBuffer returns the highest on-screen buffer level seen by the sampler.
func (c *Collector) PeakBuffer() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakBuffer
}
