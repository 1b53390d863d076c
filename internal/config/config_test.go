package config

import (
	"bytes"
	"flag"
	"reflect"
	"strings"
	"testing"
	"time"
)

func validClient() *Config {
	cfg := DefaultConfig()
	cfg.SchedulePath = "session.json"
	cfg.Peers = []string{"10.0.0.2"}
	return cfg
}

func TestPeerList_Set(t *testing.T) {
	var p peerList

	if err := p.Set("10.0.0.1, 10.0.0.2"); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := p.Set("10.0.0.3:6000"); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	// Empty entries are dropped
	if err := p.Set(",,"); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	want := peerList{"10.0.0.1", "10.0.0.2", "10.0.0.3:6000"}
	if !reflect.DeepEqual(p, want) {
		t.Errorf("peers = %v, want %v", p, want)
	}
	if p.String() != "10.0.0.1,10.0.0.2,10.0.0.3:6000" {
		t.Errorf("String() = %q", p.String())
	}
}

func TestFlagType(t *testing.T) {
	testCases := []struct {
		name     string
		defValue string
		expected string
	}{
		{"bool true", "true", ""},
		{"bool false", "false", ""},
		{"int", "4096", "int"},
		{"float", "2.5", "float"},
		{"string", "short", "string"},
		{"duration millis", "5ms", "duration"},
		{"duration seconds", "2s", "duration"},
		{"empty", "", "string"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := &flag.Flag{Name: "test", DefValue: tc.defValue}
			if got := flagType(f); got != tc.expected {
				t.Errorf("flagType(%q) = %q, want %q", tc.defValue, got, tc.expected)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Port != 5001 {
		t.Errorf("Port = %d, want 5001", cfg.Port)
	}
	if cfg.TickInterval != 100*time.Millisecond {
		t.Errorf("TickInterval = %v", cfg.TickInterval)
	}
	if cfg.ReadChunk != 4096 {
		t.Errorf("ReadChunk = %d", cfg.ReadChunk)
	}
	if cfg.MaxBufferActive != 20 || cfg.PrefetchTarget != 5 || cfg.PanicThreshold != 5 {
		t.Errorf("buffer tuning = %v/%v/%v", cfg.MaxBufferActive, cfg.PrefetchTarget, cfg.PanicThreshold)
	}
	if cfg.WindowLen != 10 || cfg.InitialEstimate != 2.5 {
		t.Errorf("estimator tuning = %d/%v", cfg.WindowLen, cfg.InitialEstimate)
	}
	if cfg.Stagger != 5*time.Millisecond {
		t.Errorf("Stagger = %v", cfg.Stagger)
	}
	if cfg.MetricsAddr != "" {
		t.Errorf("MetricsAddr = %q, want disabled", cfg.MetricsAddr)
	}
}

func TestParseArgs(t *testing.T) {
	var usage bytes.Buffer
	fs := flag.NewFlagSet("abr-replay", flag.ContinueOnError)

	cfg, err := ParseArgs(fs, []string{
		"-role", "client",
		"-ips", "10.0.0.2,10.0.0.3",
		"-mode", "long",
		"-stagger", "10ms",
		"-max-buffer-active", "30",
		"session.json",
	}, &usage)
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}

	if cfg.SchedulePath != "session.json" {
		t.Errorf("SchedulePath = %q, want positional argument", cfg.SchedulePath)
	}
	if !reflect.DeepEqual(cfg.Peers, []string{"10.0.0.2", "10.0.0.3"}) {
		t.Errorf("Peers = %v", cfg.Peers)
	}
	if cfg.Mode != "long" || cfg.Stagger != 10*time.Millisecond || cfg.MaxBufferActive != 30 {
		t.Errorf("parsed = %+v", cfg)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("parsed config invalid: %v", err)
	}
}

func TestParseArgs_Usage(t *testing.T) {
	var usage bytes.Buffer
	fs := flag.NewFlagSet("abr-replay", flag.ContinueOnError)

	if _, err := ParseArgs(fs, []string{"-h"}, &usage); err != flag.ErrHelp {
		t.Fatalf("err = %v, want flag.ErrHelp", err)
	}
	out := usage.String()
	for _, want := range []string{"Role Flags:", "-schedule", "ABR Tuning:", "-max-buffer-active", "(default 5001)"} {
		if !strings.Contains(out, want) {
			t.Errorf("usage missing %q", want)
		}
	}
}

func TestPeerAddrs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Peers = []string{"10.0.0.2", "10.0.0.3:6000", " ", "::1", "[::2]"}

	want := []string{"10.0.0.2:5001", "10.0.0.3:6000", "[::1]:5001", "[::2]:5001"}
	if got := cfg.PeerAddrs(); !reflect.DeepEqual(got, want) {
		t.Errorf("PeerAddrs() = %v, want %v", got, want)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validClient()); err != nil {
		t.Errorf("Valid client config should not error: %v", err)
	}

	srv := DefaultConfig()
	srv.Role = RoleServer
	if err := Validate(srv); err != nil {
		t.Errorf("Valid server config should not error: %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown role", func(c *Config) { c.Role = "proxy" }, "role"},
		{"missing schedule", func(c *Config) { c.SchedulePath = "" }, "schedule"},
		{"no peers", func(c *Config) { c.Peers = nil }, "ips"},
		{"url peer", func(c *Config) { c.Peers = []string{"http://10.0.0.2"} }, "ips"},
		{"bad port", func(c *Config) { c.Port = 0 }, "port"},
		{"bad mode", func(c *Config) { c.Mode = "medium" }, "mode"},
		{"zero tick", func(c *Config) { c.TickInterval = 0 }, "tick"},
		{"negative stagger", func(c *Config) { c.Stagger = -time.Millisecond }, "stagger"},
		{"zero read chunk", func(c *Config) { c.ReadChunk = 0 }, "read_chunk"},
		{"zero window", func(c *Config) { c.WindowLen = 0 }, "window"},
		{"prefetch above ceiling", func(c *Config) { c.PrefetchTarget = 30 }, "prefetch_target"},
		{"zero estimate", func(c *Config) { c.InitialEstimate = 0 }, "initial_estimate"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validClient()
			tc.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.field) {
				t.Errorf("error %q should mention %s", err, tc.field)
			}
		})
	}
}

func TestValidate_ServerListen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Role = RoleServer
	cfg.ListenAddr = "5001"

	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "listen") {
		t.Errorf("err = %v, want listen error", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validClient()
	cfg.SchedulePath = ""
	cfg.Peers = nil
	cfg.Mode = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected multiple errors")
	}

	errStr := err.Error()
	for _, field := range []string{"schedule", "ips", "mode"} {
		if !strings.Contains(errStr, field) {
			t.Errorf("Error should mention %s", field)
		}
	}
}

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test_field",
		Message: "test message",
	}

	if err.Error() != "test_field: test message" {
		t.Errorf("Error string = %q, want %q", err.Error(), "test_field: test message")
	}
}
