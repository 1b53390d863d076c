// Package config provides configuration management for abr-replay.
package config

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Roles.
const (
	RoleClient = "client"
	RoleServer = "server"
)

// Config holds all configuration options for both roles.
type Config struct {
	// Role
	Role         string   `json:"role"` // client, server
	SchedulePath string   `json:"schedule"`
	Peers        []string `json:"peers"`
	Port         int      `json:"port"`
	ListenAddr   string   `json:"listen"`
	Mode         string   `json:"mode"` // short, long

	// Timing
	TickInterval  time.Duration `json:"tick"`
	DialTimeout   time.Duration `json:"dial_timeout"`
	ReadTimeout   time.Duration `json:"read_timeout"` // 0 = none
	ReadChunk     int           `json:"read_chunk"`
	Stagger       time.Duration `json:"stagger"`
	StaggerJitter time.Duration `json:"stagger_jitter"`
	StopGrace     time.Duration `json:"grace"`

	// Tuning
	MaxBufferActive float64 `json:"max_buffer_active"`
	PrefetchTarget  float64 `json:"prefetch_target"`
	PanicThreshold  float64 `json:"panic_threshold"`
	WindowLen       int     `json:"window"`
	InitialEstimate float64 `json:"initial_estimate"`

	// Output
	OutPath    string `json:"out"`
	JSONResult bool   `json:"json_result"`

	// Observability
	MetricsAddr     string        `json:"metrics_addr"` // empty = disabled
	MetricsDump     string        `json:"metrics_dump"`
	SampleInterval  time.Duration `json:"sample_interval"`
	TUIEnabled      bool          `json:"tui"`
	Verbose         bool          `json:"verbose"`
	LogFormat       string        `json:"log_format"` // json, text
	LogLevel        string        `json:"log_level"`
	SkipPreflight   bool          `json:"skip_preflight"`
	PreflightPeers  bool          `json:"preflight_peers"`
	PeerDialTimeout time.Duration `json:"peer_dial_timeout"`
}

// DefaultConfig returns a Config with the stock tuning.
func DefaultConfig() *Config {
	return &Config{
		// Role
		Role:       RoleClient,
		Port:       5001,
		ListenAddr: "0.0.0.0:5001",
		Mode:       "short",

		// Timing
		TickInterval: 100 * time.Millisecond,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		ReadChunk:    4096,
		Stagger:      5 * time.Millisecond,
		StopGrace:    1 * time.Second,

		// Tuning
		MaxBufferActive: 20,
		PrefetchTarget:  5,
		PanicThreshold:  5,
		WindowLen:       10,
		InitialEstimate: 2.5,

		// Output
		JSONResult: true,

		// Observability
		MetricsAddr:     "", // Disabled
		SampleInterval:  500 * time.Millisecond,
		LogFormat:       "json",
		LogLevel:        "info",
		PreflightPeers:  true,
		PeerDialTimeout: 500 * time.Millisecond,
	}
}

// PeerAddrs returns the peers as host:port, adding the configured port to
// entries that have none.
func (c *Config) PeerAddrs() []string {
	out := make([]string, 0, len(c.Peers))
	for _, p := range c.Peers {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(p); err == nil {
			out = append(out, p)
			continue
		}
		out = append(out, net.JoinHostPort(strings.Trim(p, "[]"), strconv.Itoa(c.Port)))
	}
	return out
}
