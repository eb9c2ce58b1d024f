// Package healthcheck exposes the engine's diagnostics counters over a
// small HTTP endpoint, the way the teacher exposes gateway health.
package healthcheck

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"bmvlink/pkg/engine"
)

// staleAfter is how long without a completed telemetry frame (committed or
// rejected) before the device is considered offline, mirroring the
// periodic-frame cadence the protocol's telemetry stream is specified to
// keep.
const staleAfter = 10 * time.Second

// Status is the JSON body served at /health.
type Status struct {
	Status            string    `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp         time.Time `json:"timestamp"`
	Uptime            string    `json:"uptime"`
	Online            bool      `json:"online"`
	LastFrameArrival  string    `json:"lastFrameArrival"`
	FramesCommitted   int64     `json:"framesCommitted"`
	FramesRejected    int64     `json:"framesRejected"`
	Timeouts          int64     `json:"timeouts"`
	RetriesExhausted  int64     `json:"retriesExhausted"`
	MaxResponseTimeMS int64     `json:"maxResponseTimeMs"`
}

// Handler serves the /health endpoint from an engine's diagnostics.
type Handler struct {
	startTime time.Time
	eng       *engine.Engine
}

// NewHandler constructs a Handler reading diagnostics from eng.
func NewHandler(eng *engine.Engine) *Handler {
	return &Handler{startTime: time.Now(), eng: eng}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.status()

	w.Header().Set("Content-Type", "application/json")
	statusCode := http.StatusOK
	if status.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	w.WriteHeader(statusCode)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(status); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode health status: %v", err), http.StatusInternalServerError)
	}
}

func (h *Handler) status() Status {
	now := time.Now()
	snap := h.eng.Diagnostics()

	online := !snap.LastFrameArrival.IsZero() && now.Sub(snap.LastFrameArrival) < staleAfter

	lastFrame := "never"
	if !snap.LastFrameArrival.IsZero() {
		lastFrame = fmt.Sprintf("%s ago", now.Sub(snap.LastFrameArrival).Round(time.Second))
	}

	statusStr := "healthy"
	if !online {
		statusStr = "unhealthy"
	} else {
		total := snap.FramesCommitted + snap.FramesRejected
		if total > 0 {
			rejectRate := float64(snap.FramesRejected) / float64(total) * 100.0
			switch {
			case rejectRate > 50.0:
				statusStr = "unhealthy"
			case rejectRate > 10.0:
				statusStr = "degraded"
			}
		}
		if snap.RetriesExhausted > 0 {
			statusStr = "degraded"
		}
	}

	return Status{
		Status:            statusStr,
		Timestamp:         now,
		Uptime:            now.Sub(h.startTime).Round(time.Second).String(),
		Online:            online,
		LastFrameArrival:  lastFrame,
		FramesCommitted:   snap.FramesCommitted,
		FramesRejected:    snap.FramesRejected,
		Timeouts:          snap.Timeouts,
		RetriesExhausted:  snap.RetriesExhausted,
		MaxResponseTimeMS: snap.MaxResponseTimeMS,
	}
}

// ListenAndServe starts an HTTP server exposing /health and /metrics on
// port, with the same conservative timeouts the teacher's health server
// sets.
func ListenAndServe(port int, h *Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/health", h)
	mux.Handle("/metrics", NewMetricsHandler(h.eng))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return server.ListenAndServe()
}
