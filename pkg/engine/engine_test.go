package engine

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"bmvlink/pkg/checksum"
	"bmvlink/pkg/message"
	"bmvlink/pkg/registry"
)

// fakePort is an in-memory Port: bytes written by the engine are recorded
// for inspection, and bytes fed into the pipe writer are delivered to the
// engine as if received from the device.
type fakePort struct {
	mu      sync.Mutex
	written []string

	r *io.PipeReader
	w *io.PipeWriter

	feed *io.PipeWriter
}

func newFakePort() (*fakePort, *io.PipeWriter) {
	pr, pw := io.Pipe()
	return &fakePort{r: pr, w: pw}, pw
}

func (p *fakePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.written = append(p.written, string(b))
	p.mu.Unlock()
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.r.Close()
	return p.w.Close()
}

func (p *fakePort) SetReadDeadline(t time.Time) error { return nil }

func (p *fakePort) writesOf(wire string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, w := range p.written {
		if w == wire {
			n++
		}
	}
	return n
}

func (p *fakePort) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.written)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// socChecksumByte finds the single byte that balances
// "Checksum\t" + byte + "\r\n" (an otherwise empty frame) to zero mod 256.
func socChecksumByte(t *testing.T) byte {
	t.Helper()
	for k := 0; k < 256; k++ {
		var probe checksum.Telemetry
		probe.Add([]byte("Checksum\t"))
		probe.AddByte(byte(k))
		probe.Add([]byte("\r\n"))
		if probe.Valid() {
			return byte(k)
		}
	}
	t.Fatal("no balancing checksum byte found")
	return 0
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakePort, *io.PipeWriter, *registry.Cache) {
	t.Helper()
	port, feed := newFakePort()
	cache := registry.NewCache()
	cache.Register(&registry.Descriptor{Address: 0x0FFF, HasAddress: true, TelemetryKey: "SOC", NativeToUnitFactor: 0.1})
	cache.Register(&registry.Descriptor{TelemetryKey: "Relay"})
	eng := New(port, cache, cfg)
	return eng, port, feed, cache
}

func markOperational(t *testing.T, feed *io.PipeWriter) {
	t.Helper()
	if _, err := feed.Write([]byte("\r\n")); err != nil {
		t.Fatalf("feed write: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
}

// TestResponseCorrelationScenarioS5 mirrors scenario S5: a queued get for
// the SOC register resolves from an embedded response inside the
// Checksum trailer, and the descriptor's committed value reflects the
// swapped big-endian integer.
func TestResponseCorrelationScenarioS5(t *testing.T) {
	eng, port, feed, cache := newTestEngine(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	markOperational(t, feed)

	getCmd, err := message.NewGet(0x0FFF, 0, 2)
	if err != nil {
		t.Fatalf("NewGet: %v", err)
	}
	eng.Enqueue(getCmd)

	waitFor(t, time.Second, func() bool { return port.writesOf(getCmd.Wire) == 1 })

	frame, err := checksum.Append("7FF0F006C03")
	if err != nil {
		t.Fatalf("checksum.Append: %v", err)
	}
	k := socChecksumByte(t)
	line := "Checksum\t" + string([]byte{k}) + ":" + frame + "\n" + "\r\n"
	if _, err := feed.Write([]byte(line)); err != nil {
		t.Fatalf("feed write: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		d, ok := cache.LookupByKey("SOC")
		return ok && d.Value == int64(0x036C)
	})
}

// TestTimeoutAndRetryScenarioS7 mirrors scenario S7: maxRetries=2 with no
// device response yields exactly three transmissions before the command
// is dropped and the next is sent.
func TestTimeoutAndRetryScenarioS7(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CmdResponseTimeout = 20 * time.Millisecond
	cfg.RestartEveryNTimeout = 0 // disable restart side effects for this test

	eng, port, feed, _ := newTestEngine(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	markOperational(t, feed)

	first, err := message.NewVersion(1, 2)
	if err != nil {
		t.Fatalf("NewVersion: %v", err)
	}
	second, err := message.NewPing(0, 0)
	if err != nil {
		t.Fatalf("NewPing: %v", err)
	}

	eng.Enqueue(first)
	eng.Enqueue(second)

	waitFor(t, 2*time.Second, func() bool { return port.writesOf(first.Wire) == 3 })
	waitFor(t, 2*time.Second, func() bool { return port.writesOf(second.Wire) == 1 })

	if got := port.writesOf(first.Wire); got != 3 {
		t.Errorf("first command transmitted %d times, want exactly 3", got)
	}
}

// TestAtMostOneInflight is universal property 7: after a transmission,
// pendingRequests never holds two entries that both resolve to queue[0].
func TestAtMostOneInflight(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CmdResponseTimeout = 50 * time.Millisecond
	eng, _, feed, _ := newTestEngine(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	markOperational(t, feed)

	a, _ := message.NewPing(0, 1)
	b, _ := message.NewVersion(0, 1)
	eng.Enqueue(a)
	eng.Enqueue(b)

	done := make(chan int, 1)
	eng.jobs <- func() { done <- len(eng.pending) }
	n := <-done
	if n > 1 {
		t.Fatalf("pendingRequests holds %d entries, want at most 1", n)
	}
}

func TestEnqueueBeforeOperationalDefersUntilFirstLine(t *testing.T) {
	eng, port, feed, _ := newTestEngine(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	cmd, _ := message.NewPing(0, 1)
	eng.Enqueue(cmd)

	time.Sleep(30 * time.Millisecond)
	if port.count() != 0 {
		t.Fatalf("command transmitted before engine became operational")
	}

	markOperational(t, feed)
	waitFor(t, time.Second, func() bool { return port.writesOf(cmd.Wire) >= 1 })
}
