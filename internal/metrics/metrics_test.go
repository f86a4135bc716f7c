package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(DownloadEvents, RemoteRPCErrors, RemoteRPCLatency, ActiveSessions, WaitOutcomes)

	DownloadEvents.WithLabelValues("start").Inc()
	RemoteRPCErrors.WithLabelValues("fetchd.getVersion").Add(2)
	ActiveSessions.Set(3)
	WaitOutcomes.WithLabelValues("timeout").Inc()

	// Histogram: observe one sample to ensure collector is live
	RemoteRPCLatency.WithLabelValues("fetchd.getVersion").Observe(0.05)

	// Verify DownloadEvents
	expectedEvents := `# HELP downlink_download_events_total Count of download events processed by the reconciler.
# TYPE downlink_download_events_total counter
downlink_download_events_total{type="start"} 1
`
	if err := testutil.CollectAndCompare(DownloadEvents, strings.NewReader(expectedEvents)); err != nil {
		t.Fatalf("unexpected events metric: %v", err)
	}

	// Verify RemoteRPCErrors
	expectedErrors := `# HELP downlink_fetchd_rpc_errors_total Errors from fetchd JSON-RPC calls.
# TYPE downlink_fetchd_rpc_errors_total counter
downlink_fetchd_rpc_errors_total{method="fetchd.getVersion"} 2
`
	if err := testutil.CollectAndCompare(RemoteRPCErrors, strings.NewReader(expectedErrors)); err != nil {
		t.Fatalf("unexpected fetchd errors metric: %v", err)
	}

	// Verify ActiveSessions
	expectedGauge := `# HELP downlink_active_sessions Number of live download sessions tracked by the manager.
# TYPE downlink_active_sessions gauge
downlink_active_sessions 3
`
	if err := testutil.CollectAndCompare(ActiveSessions, strings.NewReader(expectedGauge)); err != nil {
		t.Fatalf("unexpected active sessions gauge: %v", err)
	}

	// Verify WaitOutcomes
	expectedWaits := `# HELP downlink_wait_outcomes_total Outcomes of wait-for-state calls.
# TYPE downlink_wait_outcomes_total counter
downlink_wait_outcomes_total{outcome="timeout"} 1
`
	if err := testutil.CollectAndCompare(WaitOutcomes, strings.NewReader(expectedWaits)); err != nil {
		t.Fatalf("unexpected wait outcomes metric: %v", err)
	}
}

func TestRPCLatencyHistogram(t *testing.T) {
	// Use a fresh histogram to avoid cross-test contamination
	RemoteRPCLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "downlink",
			Name:      "fetchd_rpc_latency_seconds",
			Help:      "Latency of fetchd JSON-RPC calls.",
		},
		[]string{"method"},
	)

	// Observe two samples and verify default bucket accounting
	RemoteRPCLatency.WithLabelValues("download.status").Observe(0.03)
	RemoteRPCLatency.WithLabelValues("download.status").Observe(0.6)

	expected := `# HELP downlink_fetchd_rpc_latency_seconds Latency of fetchd JSON-RPC calls.
# TYPE downlink_fetchd_rpc_latency_seconds histogram
downlink_fetchd_rpc_latency_seconds_bucket{method="download.status",le="0.005"} 0
downlink_fetchd_rpc_latency_seconds_bucket{method="download.status",le="0.01"} 0
downlink_fetchd_rpc_latency_seconds_bucket{method="download.status",le="0.025"} 0
downlink_fetchd_rpc_latency_seconds_bucket{method="download.status",le="0.05"} 1
downlink_fetchd_rpc_latency_seconds_bucket{method="download.status",le="0.1"} 1
downlink_fetchd_rpc_latency_seconds_bucket{method="download.status",le="0.25"} 1
downlink_fetchd_rpc_latency_seconds_bucket{method="download.status",le="0.5"} 1
downlink_fetchd_rpc_latency_seconds_bucket{method="download.status",le="1"} 2
downlink_fetchd_rpc_latency_seconds_bucket{method="download.status",le="2.5"} 2
downlink_fetchd_rpc_latency_seconds_bucket{method="download.status",le="5"} 2
downlink_fetchd_rpc_latency_seconds_bucket{method="download.status",le="10"} 2
downlink_fetchd_rpc_latency_seconds_bucket{method="download.status",le="+Inf"} 2
downlink_fetchd_rpc_latency_seconds_sum{method="download.status"} 0.63
downlink_fetchd_rpc_latency_seconds_count{method="download.status"} 2
`
	if err := testutil.CollectAndCompare(RemoteRPCLatency, strings.NewReader(expected)); err != nil {
		t.Fatalf("unexpected histogram: %v", err)
	}
}
