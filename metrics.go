package atom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ambient in-process instrumentation, grounded on
// server/internal/metrics/metrics.go's promauto.New* style. This is
// not the "standalone metrics daemon" spec.md puts out of scope --
// that's a separate scrape/aggregation process; these are counters and
// gauges the element exposes about its own operation, the same ambient
// concern structured logging is. An operator wires them to whatever
// registry/exporter they already run; Atom never starts an HTTP
// listener of its own.
var (
	pipelinesInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "atom_pipelines_in_use",
		Help: "Pipelines currently checked out of an element's connection pool.",
	}, []string{"element"})

	commandSendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atom_command_send_duration_seconds",
		Help:    "Latency of command_send from issue to final response, by callee and command.",
		Buckets: prometheus.DefBuckets,
	}, []string{"callee", "cmd"})

	commandSendResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atom_command_send_total",
		Help: "command_send outcomes by callee, command, and result (ok/no_ack/no_response/error).",
	}, []string{"callee", "cmd", "result"})

	commandDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atom_command_dispatched_total",
		Help: "Commands dispatched by this element's command loop, by command and result.",
	}, []string{"cmd", "result"})

	streamWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atom_stream_writes_total",
		Help: "entry_write calls, by stream name.",
	}, []string{"stream"})

	referencesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atom_references_created_total",
		Help: "Reference keys created, by source (value or stream).",
	}, []string{"source"})
)

func observeCommandSendResult(callee, cmd, result string, start time.Time) {
	commandSendResults.WithLabelValues(callee, cmd, result).Inc()
	commandSendDuration.WithLabelValues(callee, cmd).Observe(time.Since(start).Seconds())
}
