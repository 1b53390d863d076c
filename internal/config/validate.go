package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or every problem joined into one error.
func Validate(cfg *Config) error {
	var errs []error

	switch cfg.Role {
	case RoleClient:
		errs = append(errs, validateClient(cfg)...)
	case RoleServer:
		if _, _, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "listen",
				Message: fmt.Sprintf("must be host:port (got %q)", cfg.ListenAddr),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "role",
			Message: fmt.Sprintf("must be 'client' or 'server' (got %q)", cfg.Role),
		})
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateClient(cfg *Config) []error {
	var errs []error

	if cfg.SchedulePath == "" {
		errs = append(errs, ValidationError{
			Field:   "schedule",
			Message: "schedule file is required for the client role",
		})
	}

	if len(cfg.PeerAddrs()) == 0 {
		errs = append(errs, ValidationError{
			Field:   "ips",
			Message: "at least one peer is required for the client role",
		})
	}
	for _, p := range cfg.Peers {
		if err := validatePeer(p); err != nil {
			errs = append(errs, ValidationError{Field: "ips", Message: err.Error()})
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "port",
			Message: fmt.Sprintf("must be 1-65535 (got %d)", cfg.Port),
		})
	}

	validModes := map[string]bool{"short": true, "long": true}
	if !validModes[cfg.Mode] {
		errs = append(errs, ValidationError{
			Field:   "mode",
			Message: fmt.Sprintf("must be 'short' or 'long' (got %q)", cfg.Mode),
		})
	}

	positive := []struct {
		field string
		value time.Duration
	}{
		{"tick", cfg.TickInterval},
		{"dial_timeout", cfg.DialTimeout},
		{"sample_interval", cfg.SampleInterval},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, ValidationError{Field: p.field, Message: "must be positive"})
		}
	}

	nonNegative := []struct {
		field string
		value time.Duration
	}{
		{"read_timeout", cfg.ReadTimeout},
		{"stagger", cfg.Stagger},
		{"stagger_jitter", cfg.StaggerJitter},
		{"grace", cfg.StopGrace},
	}
	for _, n := range nonNegative {
		if n.value < 0 {
			errs = append(errs, ValidationError{Field: n.field, Message: "must not be negative"})
		}
	}

	if cfg.ReadChunk < 1 {
		errs = append(errs, ValidationError{Field: "read_chunk", Message: "must be at least 1"})
	}
	if cfg.WindowLen < 1 {
		errs = append(errs, ValidationError{Field: "window", Message: "must be at least 1"})
	}
	if cfg.MaxBufferActive <= 0 {
		errs = append(errs, ValidationError{Field: "max_buffer_active", Message: "must be positive"})
	}
	if cfg.PrefetchTarget <= 0 {
		errs = append(errs, ValidationError{Field: "prefetch_target", Message: "must be positive"})
	}
	if cfg.PrefetchTarget > cfg.MaxBufferActive {
		errs = append(errs, ValidationError{
			Field:   "prefetch_target",
			Message: "must not exceed max_buffer_active",
		})
	}
	if cfg.PanicThreshold < 0 {
		errs = append(errs, ValidationError{Field: "panic_threshold", Message: "must not be negative"})
	}
	if cfg.InitialEstimate <= 0 {
		errs = append(errs, ValidationError{Field: "initial_estimate", Message: "must be positive"})
	}

	return errs
}

// validatePeer accepts a host or host:port, not a URL.
func validatePeer(peer string) error {
	if strings.Contains(peer, "://") {
		return fmt.Errorf("%q must be a host or host:port, not a URL", peer)
	}
	if strings.TrimSpace(peer) == "" {
		return errors.New("peer must not be empty")
	}
	return nil
}
