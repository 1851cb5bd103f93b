// Package monitoring registers the Prometheus metric families the gateway
// and scheduler populate, following the teacher's promauto idiom: declare
// every metric as a package-level var built by promauto so registration
// happens at import time and call sites just reference the var.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP surface.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credpool_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credpool_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "credpool_http_inflight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Scheduler / credential-pool state.
	SchedulerAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credpool_scheduler_acquire_total",
			Help: "Total number of Scheduler.Acquire calls by outcome",
		},
		[]string{"outcome"}, // granted|no_capacity
	)

	SchedulerAcquireIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "credpool_scheduler_acquire_iterations",
			Help:    "Number of HAS_TOKENS pop iterations a single Acquire call needed",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
		},
	)

	CredentialStateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "credpool_credential_state",
			Help: "Number of credentials currently in each logical state",
		},
		[]string{"state"}, // has_tokens|empty|retired|quarantined
	)

	CredentialFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credpool_credential_failures_total",
			Help: "Total non-rate-limit failures recorded per credential",
		},
		[]string{"credential"},
	)

	CredentialQuarantinedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credpool_credential_quarantined_total",
			Help: "Total number of times a credential crossed the quarantine threshold",
		},
	)

	CredentialRetiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credpool_credential_retired_total",
			Help: "Total number of times a credential was retired for exceeding its daily quota",
		},
	)

	CredentialBannedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credpool_credential_banned_total",
			Help: "Total number of times a credential was banned by the catalog",
		},
	)

	ActivationPromotedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credpool_activation_promoted_total",
			Help: "Total number of credentials promoted from EMPTY back to HAS_TOKENS",
		},
	)

	ActivationSkippedQuarantinedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credpool_activation_skipped_quarantined_total",
			Help: "Total number of EMPTY promotions skipped because the credential was quarantined concurrently",
		},
	)

	DailyResetTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credpool_daily_reset_total",
			Help: "Total number of credentials un-retired by the daily reset job",
		},
	)

	// Retry driver / upstream.
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credpool_retry_attempts_total",
			Help: "Total retry-driver attempts by outcome",
		},
		[]string{"outcome"}, // success|client_error|server_error|exhausted
	)

	UpstreamCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "credpool_upstream_call_duration_seconds",
			Help:    "Duration of individual upstream calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Global circuit breaker.
	BreakerTrippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credpool_breaker_tripped_total",
			Help: "Total number of times the global circuit breaker tripped",
		},
	)

	BreakerRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "credpool_breaker_rejected_total",
			Help: "Total number of requests rejected while the global breaker was open",
		},
	)
)
