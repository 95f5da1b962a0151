// Package metrics tracks process-wide counters for the ADAS stack and
// exposes them as Prometheus gauges. Counters are plain atomics on the
// hot path; Prometheus reads them lazily through GaugeFunc collectors.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counters shared by the workers and the supervisor.
var (
	FramesProcessed   atomic.Uint64 // camera frames consumed by any worker
	FramesDropped     atomic.Uint64 // frames rejected by preprocessing
	MalformedReadings atomic.Uint64 // range readings dropped as invalid
	StaleTicks        atomic.Uint64 // control ticks without fresh sensor data
	WarningsRaised    atomic.Uint64
	WarningsCleared   atomic.Uint64
	BrakeCommands     atomic.Uint64
	WorkerRestarts    atomic.Uint64
	WorkersDisabled   atomic.Uint64
	BusMessages       atomic.Uint64 // messages republished by the bridge
)

var registry = prometheus.NewRegistry()

func init() {
	gauges := []struct {
		name string
		help string
		src  *atomic.Uint64
	}{
		{"adas_frames_processed_total", "Camera frames consumed by workers", &FramesProcessed},
		{"adas_frames_dropped_total", "Camera frames rejected by preprocessing", &FramesDropped},
		{"adas_malformed_readings_total", "Range readings dropped as invalid", &MalformedReadings},
		{"adas_stale_ticks_total", "Control ticks without fresh sensor data", &StaleTicks},
		{"adas_warnings_raised_total", "Warning raise edges emitted", &WarningsRaised},
		{"adas_warnings_cleared_total", "Warning clear edges emitted", &WarningsCleared},
		{"adas_brake_commands_total", "Brake commands published", &BrakeCommands},
		{"adas_worker_restarts_total", "Worker restarts issued by the supervisor", &WorkerRestarts},
		{"adas_workers_disabled_total", "Workers disabled after exhausting restarts", &WorkersDisabled},
		{"adas_bridge_messages_total", "Messages republished from the simulator bridge", &BusMessages},
	}

	for _, g := range gauges {
		src := g.src
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(src.Load()) },
		))
	}
}

// Handler returns the HTTP handler serving the Prometheus exposition.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
