package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// ErrShortRead is reported when the peer closes before delivering every byte.
var ErrShortRead = errors.New("short read")

// Default client-side timeouts and read size.
const (
	DefaultDialTimeout = 2 * time.Second
	DefaultReadTimeout = 2 * time.Second
	DefaultReadChunk   = 4096
)

// Result describes the outcome of one exchange. A short or zero Received is a
// valid outcome, not a failure of the caller.
type Result struct {
	Requested int64
	Received  int64
	Elapsed   time.Duration

	// Err is nil when every requested byte arrived. context.Canceled means the
	// caller aborted mid-transfer.
	Err error

	// Canceled is set when ctx ended the exchange.
	Canceled bool
}

// Aborted reports whether the exchange was cut short by the caller's context.
func (r Result) Aborted() bool {
	return r.Canceled
}

// Complete reports whether every requested byte arrived.
func (r Result) Complete() bool {
	return r.Err == nil && r.Received == r.Requested
}

// Fetcher performs client-side exchanges.
type Fetcher struct {
	// DialTimeout bounds connection establishment to an unreachable peer.
	DialTimeout time.Duration

	// ReadTimeout is the idle limit between reads; zero disables it.
	ReadTimeout time.Duration

	// ReadChunk is the size of each socket read.
	ReadChunk int
}

// NewFetcher returns a Fetcher with the default timeouts.
func NewFetcher() *Fetcher {
	return &Fetcher{
		DialTimeout: DefaultDialTimeout,
		ReadTimeout: DefaultReadTimeout,
		ReadChunk:   DefaultReadChunk,
	}
}

// Fetch requests size bytes from addr and reads until they all arrive, the
// peer closes, an I/O error occurs, or ctx is cancelled. Cancellation closes
// the socket immediately so a blocked read returns.
func (f *Fetcher) Fetch(ctx context.Context, addr string, size int64) Result {
	start := time.Now()
	res := Result{Requested: size}

	if err := ctx.Err(); err != nil {
		res.Err = err
		res.Canceled = true
		res.Elapsed = time.Since(start)
		return res
	}

	dialer := net.Dialer{Timeout: f.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		res.Err, res.Canceled = f.classify(ctx, fmt.Errorf("dial %s: %w", addr, err))
		res.Elapsed = time.Since(start)
		return res
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := io.WriteString(conn, strconv.FormatInt(size, 10)+"\n"); err != nil {
		res.Err, res.Canceled = f.classify(ctx, fmt.Errorf("sending request: %w", err))
		res.Elapsed = time.Since(start)
		return res
	}

	f.readPayload(ctx, conn, &res)
	res.Elapsed = time.Since(start)
	return res
}

// payloadConn is the part of net.Conn the read loop needs.
type payloadConn interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// readPayload reads until res.Requested bytes arrive or the read fails.
// Cancellation is checked before each read, so a chunk whose last byte has
// arrived is complete even if ctx ends right after.
func (f *Fetcher) readPayload(ctx context.Context, conn payloadConn, res *Result) {
	chunk := f.ReadChunk
	if chunk <= 0 {
		chunk = DefaultReadChunk
	}
	buf := make([]byte, chunk)

	for res.Received < res.Requested {
		if ctx.Err() != nil {
			res.Err, res.Canceled = ctx.Err(), true
			return
		}
		if f.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
		}
		want := min(int64(len(buf)), res.Requested-res.Received)
		n, err := conn.Read(buf[:want])
		res.Received += int64(n)
		if err != nil {
			if res.Received == res.Requested {
				return
			}
			if errors.Is(err, io.EOF) {
				err = ErrShortRead
			}
			res.Err, res.Canceled = f.classify(ctx, err)
			return
		}
	}
}

// classify prefers the context error when the failure was caused by cancellation.
func (f *Fetcher) classify(ctx context.Context, err error) (error, bool) {
	if ctx.Err() != nil {
		return ctx.Err(), true
	}
	return err, false
}
