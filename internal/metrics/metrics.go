// Package metrics defines the Prometheus metrics exported by the admin API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storefront"

// Ceremony names.
const (
	CeremonyRegistration   = "registration"
	CeremonyAuthentication = "authentication"
)

// Ceremony stages.
const (
	StageBegin  = "begin"
	StageFinish = "finish"
)

// CeremoniesTotal counts passkey ceremony outcomes.
// Labels:
//   - ceremony: registration or authentication
//   - stage: begin or finish
//   - result: ok, or the error kind that ended the ceremony
var CeremoniesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "passkey",
		Name:      "ceremonies_total",
		Help:      "Total number of passkey ceremony steps, labelled by outcome.",
	},
	[]string{"ceremony", "stage", "result"},
)

// ChallengesSweptTotal counts expired challenges cleared by the janitor.
var ChallengesSweptTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "passkey",
		Name:      "challenges_swept_total",
		Help:      "Total number of expired admin challenges cleared by the janitor.",
	},
)

// HTTPRequestsTotal counts handled HTTP requests.
// Labels:
//   - method: HTTP method
//   - route: matched gin route pattern, or "unmatched"
//   - status: response status code
var HTTPRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests handled by the admin API.",
	},
	[]string{"method", "route", "status"},
)

// HTTPRequestDuration measures request latency per route.
var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests handled by the admin API.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route"},
)

// ObserveCeremony records one ceremony step outcome.
func ObserveCeremony(ceremony, stage, result string) {
	CeremoniesTotal.WithLabelValues(ceremony, stage, result).Inc()
}
