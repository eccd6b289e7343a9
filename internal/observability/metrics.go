package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "classifications_total",
		Help:      "Classification gateway calls by mode and outcome",
	}, []string{"mode", "outcome"})

	ClassificationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Name:      "classification_duration_seconds",
		Help:      "Latency of classification calls",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"provider"})

	IncidentsArchived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "incidents_archived_total",
		Help:      "Incidents committed to the store",
	}, []string{"type"})

	AutoConfirmations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "auto_confirmations_total",
		Help:      "Biometric matches archived without operator review",
	})

	RegistryDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "registry_duplicates_total",
		Help:      "Registry inserts rejected as duplicates",
	})

	RouteLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "route_lookups_total",
		Help:      "Routing and facility lookups by kind and outcome",
	}, []string{"kind", "outcome"})

	ScanQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "scan_queue_depth",
		Help:      "Number of pending asynchronous scans",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
