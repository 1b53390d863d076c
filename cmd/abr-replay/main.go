// Package main provides the abr-replay CLI entry point.
//
// abr-replay replays recorded short-video swipe sessions over plain TCP.
// The client role fetches every chunk of every video from a set of peers,
// choosing a bitrate per chunk from a bandwidth estimate and a simulated
// playback buffer. The server role is the peer: it answers each request
// with the number of bytes asked for.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-abr-replay/internal/config"
	"github.com/randomizedcoder/go-abr-replay/internal/logging"
	"github.com/randomizedcoder/go-abr-replay/internal/metrics"
	"github.com/randomizedcoder/go-abr-replay/internal/orchestrator"
	"github.com/randomizedcoder/go-abr-replay/internal/preflight"
	"github.com/randomizedcoder/go-abr-replay/internal/schedule"
	"github.com/randomizedcoder/go-abr-replay/internal/stats"
	"github.com/randomizedcoder/go-abr-replay/internal/transfer"
	"github.com/randomizedcoder/go-abr-replay/internal/tui"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/abr-replay
var version = "dev"

// shutdownTimeout bounds server and metrics endpoint shutdown.
const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("abr-replay %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
	var logger *slog.Logger
	if cfg.TUIEnabled && cfg.Role == config.RoleClient {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Role == config.RoleServer {
		return runServer(ctx, cfg, logger)
	}
	return runClient(ctx, cfg, logger)
}

// runServer serves payloads until a signal arrives.
func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	logger.Info("starting", "version", version, "role", cfg.Role, "listen", cfg.ListenAddr)

	srv := transfer.NewServer(cfg.ListenAddr, logger)
	if err := srv.Listen(); err != nil {
		logger.Error("server_listen_failed", "error", err)
		return 1
	}

	if err := srv.Serve(ctx); err != nil {
		logger.Error("server_failed", "error", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown_incomplete", "error", err)
	}

	st := srv.Stats()
	logger.Info("server_stopped",
		"connections", st.Connections,
		"bytes_sent", st.BytesSent,
		"failures", st.Failures,
	)
	return 0
}

// runClient replays the schedule and writes the report.
func runClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	peers := cfg.PeerAddrs()

	logger.Info("starting",
		"version", version,
		"role", cfg.Role,
		"schedule", cfg.SchedulePath,
		"mode", cfg.Mode,
		"peers", len(peers),
		"metrics_addr", cfg.MetricsAddr,
	)

	sched, err := schedule.Load(cfg.SchedulePath, schedule.Mode(cfg.Mode), logger)
	if err != nil {
		logger.Error("schedule_load_failed", "path", cfg.SchedulePath, "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if !cfg.SkipPreflight {
		result := preflight.RunAll(ctx, preflight.Options{
			Workers:     len(sched.Plans),
			Peers:       peers,
			CheckPeers:  cfg.PreflightPeers,
			DialTimeout: cfg.PeerDialTimeout,
		})
		preflight.PrintResults(os.Stderr, result)
		if !result.Passed {
			fmt.Fprintln(os.Stderr, "Preflight checks failed (use -skip-preflight to override)")
			return 1
		}
	}

	// Metrics live on their own registry so the dump holds only replay series.
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		SchedulePath: cfg.SchedulePath,
		Mode:         cfg.Mode,
		Plans:        len(sched.Plans),
		Streams:      len(sched.Order),
	}, registry)

	if cfg.MetricsAddr != "" {
		metricsServer := metrics.NewServerWithGatherer(cfg.MetricsAddr, registry, logger)
		if err := metricsServer.Start(); err != nil {
			logger.Error("metrics_server_failed", "error", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics_server_shutdown_error", "error", err)
			}
		}()
	}

	var program *tea.Program
	if cfg.TUIEnabled {
		program = tea.NewProgram(tui.New(tui.Config{
			SchedulePath:    cfg.SchedulePath,
			Mode:            cfg.Mode,
			Peers:           peers,
			MetricsAddr:     cfg.MetricsAddr,
			MaxBufferActive: cfg.MaxBufferActive,
			PanicThreshold:  cfg.PanicThreshold,
		}), tea.WithAltScreen())
	} else {
		printBanner(cfg, peers, len(sched.Plans), len(sched.Order))
	}

	var orch *orchestrator.Orchestrator
	orch = orchestrator.New(cfg, sched, logger, orchestrator.Callbacks{
		OnSample: func(s orchestrator.Sample) {
			collector.RecordSample(metrics.SampleUpdate{
				Snapshot:       s.Snapshot,
				WorkersRunning: s.WorkersRunning,
				WorkersTotal:   s.WorkersTotal,
				ThroughputMbps: s.Rates.Last1s,
				TransferErrors: orch.Failures().CountErrors(),
			})
			tui.SendSample(program, s)
		},
		OnChunk: func(ev orchestrator.ChunkEvent) {
			collector.RecordChunk(metrics.ChunkUpdate{
				Quality:        ev.Rung.Label,
				Requested:      ev.Requested,
				Received:       ev.Received,
				Elapsed:        ev.Elapsed,
				ThroughputMbps: ev.ThroughputMbps,
				Aborted:        ev.Aborted,
			})
			tui.SendChunk(program, ev)
		},
	})

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	type outcome struct {
		report stats.Report
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		report, err := orch.Run(runCtx)
		done <- outcome{report, err}
		tui.SendDone(program)
		tui.SendQuit(program)
	}()

	if program != nil {
		if _, err := program.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		}
		// Quitting the dashboard ends the replay.
		cancelRun()
	}

	res := <-done
	if res.err != nil {
		logger.Error("replay_failed", "error", res.err)
		return 1
	}
	report := res.report

	if cfg.JSONResult {
		line, err := report.ResultLine()
		if err != nil {
			logger.Error("result_encode_failed", "error", err)
			return 1
		}
		fmt.Println(line)
	}

	if cfg.OutPath != "" {
		if err := report.WriteFile(cfg.OutPath); err != nil {
			logger.Error("report_write_failed", "path", cfg.OutPath, "error", err)
		} else {
			logger.Info("report_written", "path", cfg.OutPath)
		}
	}

	if cfg.MetricsDump != "" {
		if err := metrics.DumpFile(registry, cfg.MetricsDump); err != nil {
			logger.Error("metrics_dump_failed", "path", cfg.MetricsDump, "error", err)
		} else {
			logger.Info("metrics_dumped", "path", cfg.MetricsDump)
		}
	}

	fmt.Fprint(os.Stderr, stats.FormatExitSummary(report, stats.SummaryConfig{
		SchedulePath:   cfg.SchedulePath,
		Mode:           cfg.Mode,
		Plans:          len(sched.Plans),
		Streams:        len(sched.Order),
		Peers:          peers,
		MetricsAddr:    cfg.MetricsAddr,
		ShowPerStream:  true,
		RecentFailures: orch.Failures().Recent(stats.MaxSummaryFailures),
	}))

	return 0
}

// printBanner prints the startup banner to stderr; stdout carries the result line.
func printBanner(cfg *config.Config, peers []string, plans, streams int) {
	w := os.Stderr
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                           abr-replay                              ║")
	fmt.Fprintln(w, "║         Short-Video Swipe Replay with Adaptive Bitrate            ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Schedule:    %s (%s mode)\n", cfg.SchedulePath, cfg.Mode)
	fmt.Fprintf(w, "  Workers:     %d plans across %d videos\n", plans, streams)
	fmt.Fprintf(w, "  Peers:       %d\n", len(peers))
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(w, "  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Press Ctrl+C to stop.")
	fmt.Fprintln(w)
}
