// Package recorder writes every raw line the transport receives to a file,
// one line per write, for later offline replay or diagnosis.
package recorder

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"bmvlink/pkg/transport"
)

// Recorder appends timestamped raw lines to a file opened with the same
// owner-only permissions the teacher's logger uses for its own log file.
type Recorder struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens (creating if necessary, appending otherwise) the file at path.
func Open(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("recorder: open %s: %w", path, err)
	}
	return &Recorder{file: f}, nil
}

// Record appends one raw line, prefixed with an RFC3339Nano timestamp.
func (r *Recorder) Record(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.file, "%s\t%s\n", time.Now().Format(time.RFC3339Nano), line)
}

// Close closes the underlying file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}

// TeeReader wraps r so every line read through it (delimited by '\n') is
// also recorded, without altering what the caller reads.
type TeeReader struct {
	src io.Reader
	rec *Recorder
	buf []byte
}

// NewTeeReader wraps src so complete lines passing through are recorded.
func NewTeeReader(src io.Reader, rec *Recorder) *TeeReader {
	return &TeeReader{src: src, rec: rec}
}

func (t *TeeReader) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if n > 0 {
		t.buf = append(t.buf, p[:n]...)
		for {
			i := bytes.IndexByte(t.buf, '\n')
			if i < 0 {
				break
			}
			t.rec.Record(string(t.buf[:i]))
			t.buf = t.buf[i+1:]
		}
	}
	return n, err
}

// recordingPort wraps a transport.Port so every complete line read from it
// is also appended to a Recorder, transparently to the engine reading
// through it.
type recordingPort struct {
	transport.Port
	tee *TeeReader
}

// WrapPort returns a transport.Port that tees every line read from port
// into rec before handing it back to the caller.
func WrapPort(port transport.Port, rec *Recorder) transport.Port {
	return &recordingPort{Port: port, tee: NewTeeReader(port, rec)}
}

func (p *recordingPort) Read(b []byte) (int, error) { return p.tee.Read(b) }
