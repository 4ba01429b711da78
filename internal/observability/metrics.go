package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fleetintel"

var (
	AIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ai_requests_total", Help: "AI operations by kind and terminal outcome"},
		[]string{"kind", "outcome"},
	)
	AIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_request_duration_seconds",
			Help:      "Time from operation start to terminal state",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"kind"},
	)
	SessionsOpen      = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "sessions_open", Help: "Assistant sessions currently held in memory"})
	StreamChunksTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "stream_chunks_total", Help: "Streamed text chunks applied to messages"})

	BriefingLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "briefing_cache_total", Help: "Briefing cache lookups by result"},
		[]string{"result"},
	)

	RiskAlerts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "risk_alerts", Help: "Alerts in the latest evaluation by severity"},
		[]string{"severity"},
	)
	SnapshotVersion = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "snapshot_version", Help: "Version of the current fleet snapshot"})

	ProxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "proxy_requests_total", Help: "AI proxy requests by status"},
		[]string{"status", "stream"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "route", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
