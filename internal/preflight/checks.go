// Package preflight provides startup validation checks.
package preflight

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Options selects what RunAll checks.
type Options struct {
	Workers     int
	Peers       []string
	CheckPeers  bool
	DialTimeout time.Duration
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks. Only the file descriptor check can
// fail the run; the rest are warnings.
func RunAll(ctx context.Context, opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 2+len(opts.Peers)),
		Passed: true,
	}

	fdCheck := checkFileDescriptors(opts.Workers)
	result.Checks = append(result.Checks, fdCheck)
	if !fdCheck.Passed {
		result.Passed = false
	}

	result.Checks = append(result.Checks, checkEphemeralPorts(opts.Workers))

	if opts.CheckPeers {
		result.Checks = append(result.Checks, checkPeers(ctx, opts.Peers, opts.DialTimeout)...)
	}

	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(workers int) Check {
	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to read limit: %v", err),
		}
	}

	// One socket per in-flight fetch, plus the metrics server, logs and stdio.
	required := workers + 64
	actual := int(limit.Cur)
	if limit.Cur > uint64(1<<31-1) {
		actual = 1<<31 - 1
	}

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d workers)", actual, required, workers),
	}
}

// checkEphemeralPorts checks if enough ephemeral ports are available.
func checkEphemeralPorts(workers int) Check {
	data, err := os.ReadFile("/proc/sys/net/ipv4/ip_local_port_range")
	if err != nil {
		return Check{
			Name:    "ephemeral_ports",
			Passed:  true,
			Warning: true,
			Message: "unable to read port range (non-Linux?)",
		}
	}

	var low, high int
	fmt.Sscanf(string(data), "%d %d", &low, &high)
	available := high - low

	// Every chunk opens a fresh connection; TIME_WAIT holds ports after close.
	recommended := workers * 16

	return Check{
		Name:     "ephemeral_ports",
		Required: recommended,
		Actual:   available,
		Passed:   true,
		Warning:  available < recommended,
		Message:  fmt.Sprintf("%d-%d (%d available, recommend %d)", low, high, available, recommended),
	}
}

// checkPeers dials every peer concurrently. An unreachable peer is a
// warning: it may come up after the client starts.
func checkPeers(ctx context.Context, peers []string, timeout time.Duration) []Check {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	checks := make([]Check, len(peers))

	g, gctx := errgroup.WithContext(ctx)
	for i, peer := range peers {
		i, peer := i, peer
		g.Go(func() error {
			checks[i] = dialPeer(gctx, peer, timeout)
			return nil
		})
	}
	_ = g.Wait()

	return checks
}

func dialPeer(ctx context.Context, peer string, timeout time.Duration) Check {
	name := "peer " + peer

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var d net.Dialer
	conn, err := d.DialContext(dctx, "tcp", peer)
	if err != nil {
		return Check{
			Name:    name,
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unreachable: %v", err),
		}
	}
	conn.Close()

	return Check{
		Name:    name,
		Passed:  true,
		Message: fmt.Sprintf("reachable (%s)", time.Since(start).Round(time.Microsecond)),
	}
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed || check.Warning {
			if fix := suggestFix(check.Name); fix != "" {
				fmt.Fprintf(w, "    Fix: %s\n", fix)
			}
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "ephemeral_ports":
		return "sysctl -w net.ipv4.ip_local_port_range=\"1024 65535\""
	default:
		if strings.HasPrefix(name, "peer ") {
			return "start a server with -role server on that host"
		}
		return ""
	}
}
