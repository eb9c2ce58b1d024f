package transport

import (
	"context"
	"fmt"
	"time"

	"bmvlink/pkg/errors"
	"bmvlink/pkg/logger"
)

// LineReader reads raw bytes from a Port and emits complete CRLF-delimited
// lines, with the terminator stripped, on Lines(). It runs its own
// goroutine so the engine's event loop never blocks directly on Port.Read.
type LineReader struct {
	port  Port
	lines chan string
	errs  chan error
	buf   []byte
}

// NewLineReader wraps port, buffering reads into complete lines.
func NewLineReader(port Port) *LineReader {
	return &LineReader{
		port:  port,
		lines: make(chan string, 16),
		errs:  make(chan error, 1),
	}
}

// Lines returns the channel of complete, terminator-stripped lines.
func (r *LineReader) Lines() <-chan string { return r.lines }

// Errs returns the channel a fatal read error is reported on. It receives
// at most one value, after which the reader has stopped.
func (r *LineReader) Errs() <-chan error { return r.errs }

// Run reads from the port until ctx is cancelled or a read error occurs.
// Byte-sequence errors that merely indicate "no data yet" (read timeout)
// are swallowed and reading continues; anything else is reported on Errs
// and Run returns.
func (r *LineReader) Run(ctx context.Context) {
	chunk := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := r.port.Read(chunk)
		if n > 0 {
			r.buf = append(r.buf, chunk[:n]...)
			r.emitCompleteLines()
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case r.errs <- errors.NewPortError("read", err, ""):
			default:
			}
			return
		}
	}
}

func (r *LineReader) emitCompleteLines() {
	for {
		idx := indexCRLF(r.buf)
		if idx < 0 {
			return
		}
		line := string(r.buf[:idx])
		r.buf = r.buf[idx+2:]
		select {
		case r.lines <- line:
		default:
			logger.LogWarn("transport: line channel full, dropping line %q", line)
		}
	}
}

func indexCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

// OpenWithRetry opens cfg with a fixed backoff between attempts until it
// succeeds or ctx is cancelled, mirroring the bridge's own MQTT
// connect-with-retry loop.
func OpenWithRetry(ctx context.Context, cfg *Config, backoff time.Duration) (Port, error) {
	attempt := 1
	for {
		port, err := OpenPort(cfg)
		if err == nil {
			logger.LogInfo("transport: opened %s after %d attempt(s)", cfg.Name, attempt)
			return port, nil
		}
		logger.LogError("transport: open %s failed (attempt %d): %v", cfg.Name, attempt, err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("transport: open cancelled: %w", ctx.Err())
		case <-time.After(backoff):
			attempt++
		}
	}
}
