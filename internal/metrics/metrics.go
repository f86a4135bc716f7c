package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	DownloadEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "downlink",
			Name:      "download_events_total",
			Help:      "Count of download events processed by the reconciler.",
		},
		[]string{"type"},
	)

	RemoteRPCErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "downlink",
			Name:      "fetchd_rpc_errors_total",
			Help:      "Errors from fetchd JSON-RPC calls.",
		},
		[]string{"method"},
	)

	RemoteRPCLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "downlink",
			Name:      "fetchd_rpc_latency_seconds",
			Help:      "Latency of fetchd JSON-RPC calls.",
		},
		[]string{"method"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "downlink",
			Name:      "active_sessions",
			Help:      "Number of live download sessions tracked by the manager.",
		},
	)

	WaitOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "downlink",
			Name:      "wait_outcomes_total",
			Help:      "Outcomes of wait-for-state calls.",
		},
		[]string{"outcome"},
	)
)

// Register registers the downlink metrics into the default registry.
func Register() {
	prometheus.MustRegister(DownloadEvents, RemoteRPCErrors, RemoteRPCLatency, ActiveSessions, WaitOutcomes)
}
