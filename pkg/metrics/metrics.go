package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "portal", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "portal", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	SignInOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "portal", Name: "signin_outcomes_total", Help: "Sign-in callback outcomes by destination."},
		[]string{"destination"},
	)
	GateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "portal", Name: "gate_decisions_total", Help: "Role area guard decisions."},
		[]string{"area", "decision"},
	)
	UpstreamUnauthorized = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "portal", Name: "upstream_unauthorized_total", Help: "Remote API responses with status 401."},
	)
	UpstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "portal", Name: "upstream_errors_total", Help: "Remote API failures other than 401, by status."},
		[]string{"status"},
	)
	SessionRenewals = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "portal", Name: "session_renewals_total", Help: "Silent session renewals by result."},
		[]string{"result"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(SignInOutcomes)
	reg.MustRegister(GateDecisions)
	reg.MustRegister(UpstreamUnauthorized)
	reg.MustRegister(UpstreamErrors)
	reg.MustRegister(SessionRenewals)
}
