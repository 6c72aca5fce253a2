package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxgate_requests_total",
		Help: "The total number of requests handled, by route and status",
	}, []string{"route", "status"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fluxgate_request_duration_seconds",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	RateLimitRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxgate_ratelimit_rejects_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"tier"})

	RateLimitEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fluxgate_ratelimit_entries",
		Help: "Live rate limit windows after the last sweep",
	})

	AuthzDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxgate_authz_decisions_total",
		Help: "Authorization decisions by resource type and result",
	}, []string{"resource_type", "result"})

	AuditEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxgate_audit_events_total",
		Help: "Audit events by outcome (queued, dropped, persisted, failed)",
	}, []string{"outcome", "sink"})
)
