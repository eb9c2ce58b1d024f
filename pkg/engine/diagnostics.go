package engine

import (
	"sync"
	"time"
)

// Diagnostics tracks counters exposed for health reporting: frame arrival,
// response timeouts, and retry exhaustion. Extracted as its own type so the
// engine's hot path only ever takes one short lock per event.
type Diagnostics struct {
	mu sync.RWMutex

	lastFrameArrival  time.Time
	framesCommitted   int64
	framesRejected    int64
	timeouts          int64
	retriesExhausted  int64
	maxResponseTimeMS int64
}

func newDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

func (d *Diagnostics) recordFrame(ts time.Time, committed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastFrameArrival = ts
	if committed {
		d.framesCommitted++
	} else {
		d.framesRejected++
	}
}

func (d *Diagnostics) recordTimeout(elapsed time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeouts++
	ms := elapsed.Milliseconds()
	if ms > d.maxResponseTimeMS {
		d.maxResponseTimeMS = ms
	}
}

func (d *Diagnostics) recordRetryExhausted() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.retriesExhausted++
}

// Snapshot is a point-in-time, read-only copy of the counters.
type Snapshot struct {
	LastFrameArrival  time.Time
	FramesCommitted   int64
	FramesRejected    int64
	Timeouts          int64
	RetriesExhausted  int64
	MaxResponseTimeMS int64
}

func (d *Diagnostics) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Snapshot{
		LastFrameArrival:  d.lastFrameArrival,
		FramesCommitted:   d.framesCommitted,
		FramesRejected:    d.framesRejected,
		Timeouts:          d.timeouts,
		RetriesExhausted:  d.retriesExhausted,
		MaxResponseTimeMS: d.maxResponseTimeMS,
	}
}
