// Package transfer implements the replay byte-transfer protocol.
//
// The protocol is a single request/response exchange over TCP: the client
// sends a decimal byte count terminated by '\n', the server answers with
// exactly that many bytes of arbitrary content and closes the connection.
// Only size and timing matter; content is random.
package transfer

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultPort is the port both roles use when an address has none.
	DefaultPort = 5001

	// maxRequestLine bounds the request line; a count never needs more.
	maxRequestLine = 1024

	// maxPayload caps the random payload buffer reused for each response.
	maxPayload = 1 << 20
)

// ErrMalformedCount is returned when a request line is not a non-negative integer.
var ErrMalformedCount = errors.New("malformed byte count")

// ServerStats counts what the server has handled.
type ServerStats struct {
	Connections int64
	BytesSent   int64
	Failures    int64
}

// Server is the stateless byte source peer of the replay client.
type Server struct {
	addr    string
	logger  *slog.Logger
	backoff BackoffConfig

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup

	connections atomic.Int64
	bytesSent   atomic.Int64
	failures    atomic.Int64
}

// NewServer creates a server that will listen on addr.
func NewServer(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:    addr,
		logger:  logger,
		backoff: DefaultBackoffConfig(),
	}
}

// Listen binds the listening socket. Serve must be called afterwards.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("transfer_server_listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Serve accepts connections until ctx is cancelled or Shutdown is called.
// Accept errors are retried with exponential backoff.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("transfer server not listening")
	}

	stop := context.AfterFunc(ctx, func() { s.closeListener() })
	defer stop()

	backoff := NewBackoff(time.Now().UnixNano(), s.backoff)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			delay := backoff.Next()
			s.logger.Warn("accept_failed", "error", err, "retry_in", delay.String(), "attempt", backoff.Attempts())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		backoff.Reset()

		s.connections.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// ListenAndServe binds and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Shutdown stops accepting and waits for in-flight responses or ctx expiry.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeListener()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		Connections: s.connections.Load(),
		BytesSent:   s.bytesSent.Load(),
		Failures:    s.failures.Load(),
	}
}

func (s *Server) closeListener() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// handle serves one exchange. Any failure silently closes the connection.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	count, err := ReadRequest(conn)
	if err != nil {
		s.failures.Add(1)
		s.logger.Debug("request_rejected", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}

	sent, err := WritePayload(conn, count)
	s.bytesSent.Add(sent)
	if err != nil {
		s.failures.Add(1)
		s.logger.Debug("response_truncated",
			"remote", conn.RemoteAddr().String(),
			"sent", sent,
			"requested", count,
			"error", err,
		)
	}
}

// ReadRequest reads the "<count>\n" line from r.
func ReadRequest(r io.Reader) (int64, error) {
	br := bufio.NewReaderSize(io.LimitReader(r, maxRequestLine), 1024)
	line, err := br.ReadString('\n')
	if err != nil {
		return 0, fmt.Errorf("reading request: %w", err)
	}
	count, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
	if err != nil || count < 0 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedCount, strings.TrimSpace(line))
	}
	return count, nil
}

// WritePayload writes exactly count random bytes to w and returns how many
// were written.
func WritePayload(w io.Writer, count int64) (int64, error) {
	payload := make([]byte, min(count, maxPayload))
	if _, err := rand.Read(payload); err != nil {
		return 0, fmt.Errorf("filling payload: %w", err)
	}

	var sent int64
	for sent < count {
		n := min(int64(len(payload)), count-sent)
		written, err := w.Write(payload[:n])
		sent += int64(written)
		if err != nil {
			return sent, err
		}
	}
	return sent, nil
}
