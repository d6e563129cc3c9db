package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	prometheus.MustRegister(RecordingsStarted, RecordingsStopped, BytesRecorded,
		FragmentsReplayed, ReplaySessionsActive, ReplayPollLatency)
}

func StartMetricsServer(port int) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", port)
		fmt.Println("[METRICS] Prometheus exporter listening on", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			fmt.Printf("[METRICS] Failed to start metrics server: %v\n", err)
		}
	}()
}

// ObserveReplayPoll updates replay metrics for one poll call.
func ObserveReplayPoll(fragments int, elapsedSeconds float64) {
	if fragments > 0 {
		FragmentsReplayed.Add(float64(fragments))
	}
	ReplayPollLatency.Observe(elapsedSeconds)
}
