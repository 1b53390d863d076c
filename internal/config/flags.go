package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// peerList is a custom flag type for -ips. It accepts a comma-separated list
// and may be repeated.
type peerList []string

func (p *peerList) String() string {
	return strings.Join(*p, ",")
}

func (p *peerList) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*p = append(*p, v)
		}
	}
	return nil
}

// ParseFlags parses the process command line and returns a Config.
func ParseFlags() (*Config, error) {
	return ParseArgs(flag.CommandLine, os.Args[1:], os.Stderr)
}

// ParseArgs parses args into a Config using fs. Usage goes to w.
func ParseArgs(fs *flag.FlagSet, args []string, w io.Writer) (*Config, error) {
	cfg := DefaultConfig()
	var peers peerList

	fs.SetOutput(w)
	fs.Usage = func() {
		fmt.Fprintf(w, `abr-replay - replay short-video swipe sessions over TCP with adaptive bitrate

Usage:
  abr-replay -role server [-listen addr]
  abr-replay -role client -schedule plan.json -ips host[,host...] [flags]

Role Flags:
`)
		printFlagCategory(fs, w, []string{"role", "schedule", "ips", "port", "listen", "mode"})

		fmt.Fprintf(w, "\nTiming:\n")
		printFlagCategory(fs, w, []string{"tick", "dial-timeout", "read-timeout", "read-chunk", "stagger", "stagger-jitter", "grace"})

		fmt.Fprintf(w, "\nABR Tuning:\n")
		printFlagCategory(fs, w, []string{"max-buffer-active", "prefetch-target", "panic-threshold", "window", "initial-estimate"})

		fmt.Fprintf(w, "\nOutput:\n")
		printFlagCategory(fs, w, []string{"out", "json-result"})

		fmt.Fprintf(w, "\nObservability:\n")
		printFlagCategory(fs, w, []string{"metrics", "metrics-dump", "sample-interval", "tui", "v", "log-format", "log-level"})

		fmt.Fprintf(w, "\nPreflight:\n")
		printFlagCategory(fs, w, []string{"skip-preflight", "preflight-peers", "peer-dial-timeout"})

		fmt.Fprintf(w, `
Examples:
  # Serve payloads on the default port
  abr-replay -role server

  # Replay a schedule against two peers, writing the report to a file
  abr-replay -role client -schedule session.json -ips 10.0.0.2,10.0.0.3 -out report.json

`)
	}

	// Role
	fs.StringVar(&cfg.Role, "role", cfg.Role, `Run as "client" or "server"`)
	fs.StringVar(&cfg.SchedulePath, "schedule", cfg.SchedulePath, "Schedule JSON file (client)")
	fs.Var(&peers, "ips", "Comma-separated peer addresses (client)")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Peer port used when an -ips entry has none")
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Listen address (server)")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, `Buffer grouping: "short" (per video) or "long" (one video)`)

	// Timing
	fs.DurationVar(&cfg.TickInterval, "tick", cfg.TickInterval, "Playback clock period")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Peer connect timeout")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "Idle limit between reads (0 = none)")
	fs.IntVar(&cfg.ReadChunk, "read-chunk", cfg.ReadChunk, "Socket read size in bytes")
	fs.DurationVar(&cfg.Stagger, "stagger", cfg.Stagger, "Delay between worker starts")
	fs.DurationVar(&cfg.StaggerJitter, "stagger-jitter", cfg.StaggerJitter, "Random extra delay per worker start")
	fs.DurationVar(&cfg.StopGrace, "grace", cfg.StopGrace, "Wait for the playback clock to stop")

	// Tuning
	fs.Float64Var(&cfg.MaxBufferActive, "max-buffer-active", cfg.MaxBufferActive, "Buffer ceiling (s) for the on-screen video")
	fs.Float64Var(&cfg.PrefetchTarget, "prefetch-target", cfg.PrefetchTarget, "Buffer ceiling (s) for the next video's prefetch")
	fs.Float64Var(&cfg.PanicThreshold, "panic-threshold", cfg.PanicThreshold, "On-screen buffer (s) below which prefetch drops to the lowest rung")
	fs.IntVar(&cfg.WindowLen, "window", cfg.WindowLen, "Throughput samples kept by the estimator")
	fs.Float64Var(&cfg.InitialEstimate, "initial-estimate", cfg.InitialEstimate, "Bandwidth estimate (Mbps) before the first sample")

	// Output
	fs.StringVar(&cfg.OutPath, "out", cfg.OutPath, "Write the report as indented JSON to this file")
	fs.BoolVar(&cfg.JSONResult, "json-result", cfg.JSONResult, "Print the JSON_RESULT: line on stdout")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	fs.StringVar(&cfg.MetricsDump, "metrics-dump", cfg.MetricsDump, "Write final metrics in exposition format to this file")
	fs.DurationVar(&cfg.SampleInterval, "sample-interval", cfg.SampleInterval, "Live metrics sampling period")
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)

	// Preflight
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.BoolVar(&cfg.PreflightPeers, "preflight-peers", cfg.PreflightPeers, "Dial each peer during preflight")
	fs.DurationVar(&cfg.PeerDialTimeout, "peer-dial-timeout", cfg.PeerDialTimeout, "Preflight peer dial timeout")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Peers = peers

	// Positional argument: schedule path
	if cfg.SchedulePath == "" && fs.NArg() >= 1 {
		cfg.SchedulePath = fs.Arg(0)
	}

	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
					fmt.Fprintf(w, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(w)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		if strings.Contains(f.DefValue, ".") {
			return "float"
		}
		return "int"
	}

	return "string"
}
