package healthcheck

import (
	"fmt"
	"net/http"

	"bmvlink/pkg/engine"
)

// MetricsHandler exposes the engine's diagnostics counters in Prometheus
// text exposition format, adapted from the teacher's hand-rolled
// PrometheusMetrics (no client library involved there either - it built the
// text format by hand) and retargeted from Modbus-read/MQTT-publish
// counters onto this protocol's frame/retry counters.
type MetricsHandler struct {
	eng *engine.Engine
}

// NewMetricsHandler constructs a MetricsHandler reading diagnostics from eng.
func NewMetricsHandler(eng *engine.Engine) *MetricsHandler {
	return &MetricsHandler{eng: eng}
}

func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap := m.eng.Diagnostics()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `# HELP bmvlink_frames_committed_total Total number of telemetry frames accepted.
# TYPE bmvlink_frames_committed_total counter
bmvlink_frames_committed_total %d

# HELP bmvlink_frames_rejected_total Total number of telemetry frames rejected on checksum.
# TYPE bmvlink_frames_rejected_total counter
bmvlink_frames_rejected_total %d

# HELP bmvlink_timeouts_total Total number of command/response timeouts.
# TYPE bmvlink_timeouts_total counter
bmvlink_timeouts_total %d

# HELP bmvlink_retries_exhausted_total Total number of commands that exhausted their retry budget.
# TYPE bmvlink_retries_exhausted_total counter
bmvlink_retries_exhausted_total %d

# HELP bmvlink_max_response_time_ms Largest observed command response time, in milliseconds.
# TYPE bmvlink_max_response_time_ms gauge
bmvlink_max_response_time_ms %d
`,
		snap.FramesCommitted,
		snap.FramesRejected,
		snap.Timeouts,
		snap.RetriesExhausted,
		snap.MaxResponseTimeMS,
	)
}
