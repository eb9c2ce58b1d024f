//go:build !wasm

package transport

import (
	"fmt"
	"time"

	"github.com/tarm/serial"

	"bmvlink/pkg/errors"
)

// nativePort wraps github.com/tarm/serial, which fixes its read timeout at
// open time rather than accepting a per-call deadline.
type nativePort struct {
	port *serial.Port
}

// OpenPort opens a native serial port with the given configuration.
func OpenPort(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("transport: config cannot be nil")
	}

	sc := &serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
		Size:        cfg.Size,
		Parity:      serial.Parity(cfg.Parity),
		StopBits:    serial.StopBits(cfg.StopBits),
	}

	p, err := serial.OpenPort(sc)
	if err != nil {
		return nil, errors.NewPortError("open", err, cfg.Name)
	}
	return &nativePort{port: p}, nil
}

func (p *nativePort) Read(b []byte) (int, error)  { return p.port.Read(b) }
func (p *nativePort) Write(b []byte) (int, error) { return p.port.Write(b) }
func (p *nativePort) Close() error                { return p.port.Close() }

// SetReadDeadline is a no-op: tarm/serial's read timeout is fixed at open
// time and already bounds every Read call, so there is nothing to adjust
// per deadline. It exists to satisfy Port for callers (and test fakes) that
// do support a per-call deadline.
func (p *nativePort) SetReadDeadline(t time.Time) error { return nil }
