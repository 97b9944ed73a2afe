package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records password authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authd_auth_attempts_total",
			Help: "Total number of password authentication attempts",
		},
		[]string{"result"},
	)

	// TwoFactorAttempts records TOTP verifications by flow (login|setup|verify|disable) and result.
	TwoFactorAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authd_two_factor_attempts_total",
			Help: "Total number of two-factor verification attempts",
		},
		[]string{"flow", "result"},
	)

	// TokensIssued counts issued tokens by kind (access|refresh).
	TokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authd_tokens_issued_total",
			Help: "Total number of signed tokens issued",
		},
		[]string{"kind"},
	)

	// TokensRevoked counts refresh tokens added to the revocation set.
	TokensRevoked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authd_tokens_revoked_total",
			Help: "Total number of refresh tokens blacklisted",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authd_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
