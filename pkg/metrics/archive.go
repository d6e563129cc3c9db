package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RecordingsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archive_recordings_started_total",
		Help: "Total number of recordings started",
	})

	RecordingsStopped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archive_recordings_stopped_total",
		Help: "Total number of recordings stopped",
	})

	BytesRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archive_bytes_recorded_total",
		Help: "Total bytes appended to recordings including framing",
	})

	FragmentsReplayed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archive_fragments_replayed_total",
		Help: "Total data fragments delivered by replay sessions",
	})

	ReplaySessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "archive_replay_sessions_active",
		Help: "Number of replay sessions currently open",
	})

	ReplayPollLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "archive_replay_poll_latency_seconds",
		Help:    "Histogram of replay poll call latency",
		Buckets: prometheus.DefBuckets,
	})
)
