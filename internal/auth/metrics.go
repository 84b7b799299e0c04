// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for authentication metrics.
const (
	OutcomeCacheHit  = "cache_hit"
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// Outcome labels for notification metrics.
const (
	NotifyAccepted = "accepted"
	NotifyIgnored  = "ignored"
	NotifyRejected = "rejected"
	NotifyError    = "error"
)

// Authentications counts Authenticate calls by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var Authentications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tokenlock_authentications_total",
		Help: "Total number of authentication requests by outcome",
	},
	[]string{"outcome"},
)

// Notifications counts NotifyAuthenticate calls by outcome.
var Notifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tokenlock_notifications_total",
		Help: "Total number of prompt answers by outcome",
	},
	[]string{"outcome"},
)

// PendingRequests tracks entries waiting for a prompt answer.
var PendingRequests = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "tokenlock_pending_requests",
	Help: "Number of authentication requests waiting for a prompt answer",
})

// WaitDuration observes how long prompted requests waited for their outcome.
var WaitDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "tokenlock_prompt_wait_seconds",
		Help:    "Time between sending a prompt and settling the request",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 180, 300, 600},
	},
	[]string{"outcome"},
)

// RegisterMetrics registers auth package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Authentications)
	reg.MustRegister(Notifications)
	reg.MustRegister(PendingRequests)
	reg.MustRegister(WaitDuration)
}

func recordAuthentication(outcome string) {
	Authentications.WithLabelValues(outcome).Inc()
}

func recordNotification(outcome string) {
	Notifications.WithLabelValues(outcome).Inc()
}

func recordWait(outcome string, started time.Time) {
	WaitDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
}

func outcomeOf(result Result) string {
	switch result.Kind() {
	case KindSuccess:
		return OutcomeSuccess
	case KindFailure:
		return OutcomeFailure
	default:
		return OutcomeTimeout
	}
}
