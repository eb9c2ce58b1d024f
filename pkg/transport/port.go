// Package transport provides the serial line abstraction the engine reads
// and writes through: an open port plus a line reader that splits the
// incoming byte stream on CRLF and hands complete lines upstream.
package transport

import (
	"io"
	"time"
)

// Config holds serial port configuration.
type Config struct {
	Name        string        // device path, e.g. /dev/ttyUSB0
	Baud        int           // baud rate
	ReadTimeout time.Duration // read timeout
	Size        byte          // data bits, default 8
	Parity      Parity
	StopBits    StopBits
}

// Parity represents the parity mode.
type Parity byte

const (
	ParityNone  Parity = 'N'
	ParityOdd   Parity = 'O'
	ParityEven  Parity = 'E'
	ParityMark  Parity = 'M'
	ParitySpace Parity = 'S'
)

// StopBits represents the stop bits configuration.
type StopBits byte

const (
	Stop1     StopBits = 1
	Stop1Half StopBits = 15
	Stop2     StopBits = 2
)

// DefaultConfig returns the configuration this protocol is specified at:
// 19200 baud, 8N1, with a read timeout short enough that the engine's
// event loop can still service timeouts promptly.
func DefaultConfig(device string) *Config {
	return &Config{
		Name:        device,
		Baud:        19200,
		ReadTimeout: 100 * time.Millisecond,
		Size:        8,
		Parity:      ParityNone,
		StopBits:    Stop1,
	}
}

// Port is an open serial port.
type Port interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}
