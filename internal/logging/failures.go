package logging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"syscall"
	"time"
)

// MaxRecentFailures is the number of failures retained for the exit summary.
const MaxRecentFailures = 100

// Failure classes.
const (
	ClassRefused   = "refused"
	ClassReset     = "reset"
	ClassTimeout   = "timeout"
	ClassShortRead = "short_read"
	ClassMalformed = "malformed"
	ClassOther     = "other"
)

// Failure is one failed or partial transfer.
type Failure struct {
	At       time.Time
	StreamID string
	Peer     string
	Class    string
	Message  string
}

// ErrorPatterns maps message fragments to a class when the error chain
// carries no typed cause.
var ErrorPatterns = []struct {
	Pattern string
	Class   string
}{
	{"connection refused", ClassRefused},
	{"connection reset", ClassReset},
	{"broken pipe", ClassReset},
	{"i/o timeout", ClassTimeout},
	{"deadline exceeded", ClassTimeout},
	{"short read", ClassShortRead},
	{"unexpected eof", ClassShortRead},
	{"invalid", ClassMalformed},
	{"malformed", ClassMalformed},
}

// FailureLog records transfer failures. It keeps a ring of recent entries
// and cumulative counts per class, and logs each one.
type FailureLog struct {
	logger  *slog.Logger
	verbose bool

	mu     sync.Mutex
	buffer []Failure
	bufIdx int
	total  int
	counts map[string]int
}

// NewFailureLog creates a failure log. In non-verbose mode only refused
// connections and timeouts are logged above debug.
func NewFailureLog(logger *slog.Logger, verbose bool) *FailureLog {
	return &FailureLog{
		logger:  logger,
		verbose: verbose,
		buffer:  make([]Failure, MaxRecentFailures),
		counts:  make(map[string]int),
	}
}

// Record classifies err and stores it. A nil err is ignored.
func (l *FailureLog) Record(streamID, peer string, err error) {
	if err == nil {
		return
	}
	f := Failure{
		At:       time.Now(),
		StreamID: streamID,
		Peer:     peer,
		Class:    Classify(err),
		Message:  err.Error(),
	}

	l.mu.Lock()
	l.buffer[l.bufIdx] = f
	l.bufIdx = (l.bufIdx + 1) % MaxRecentFailures
	l.total++
	l.counts[f.Class]++
	l.mu.Unlock()

	l.logFailure(f)
}

func (l *FailureLog) logFailure(f Failure) {
	level := slog.LevelDebug
	if f.Class == ClassRefused || f.Class == ClassTimeout {
		level = slog.LevelWarn
	}
	if !l.verbose && level == slog.LevelDebug {
		return
	}
	l.logger.Log(context.Background(), level, "transfer_failed",
		"stream_id", f.StreamID,
		"peer", f.Peer,
		"class", f.Class,
		"error", f.Message,
	)
}

// Classify maps an error to a failure class.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, syscall.ECONNREFUSED):
		return ClassRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return ClassReset
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return ClassTimeout
	}

	lower := strings.ToLower(err.Error())
	for _, p := range ErrorPatterns {
		if strings.Contains(lower, p.Pattern) {
			return p.Class
		}
	}
	return ClassOther
}

// Recent returns up to n of the most recent failures, oldest first.
func (l *FailureLog) Recent(n int) []Failure {
	l.mu.Lock()
	defer l.mu.Unlock()

	n = min(n, MaxRecentFailures, l.total)
	out := make([]Failure, 0, n)
	for i := 0; i < n; i++ {
		idx := (l.bufIdx - n + i + MaxRecentFailures) % MaxRecentFailures
		out = append(out, l.buffer[idx])
	}
	return out
}

// CountErrors returns cumulative failure counts by class.
func (l *FailureLog) CountErrors() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	counts := make(map[string]int, len(l.counts))
	for k, v := range l.counts {
		counts[k] = v
	}
	return counts
}

// Total returns the number of failures recorded.
func (l *FailureLog) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
