package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the authentication service.
type Metrics struct {
	ChallengesIssued  prometheus.Counter
	DeliveryFailures  prometheus.Counter
	RedeemOutcomes    *prometheus.CounterVec
	TokensMinted      prometheus.Counter
	TokensRefreshed   prometheus.Counter
	RateLimitRejected *prometheus.CounterVec
	Suspensions       prometheus.Counter
	RefreshRevoked    prometheus.Counter
	RefreshReaped     prometheus.Counter
	AuditFailures     prometheus.Counter
	EndpointLatency   *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ChallengesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "usher_challenges_issued_total",
			Help: "Total number of one-time code challenges issued",
		}),
		DeliveryFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "usher_challenge_delivery_failures_total",
			Help: "Total number of one-time code emails that could not be sent",
		}),
		RedeemOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "usher_redeem_attempts_total",
			Help: "Total number of redeem attempts, labeled by outcome",
		}, []string{"outcome"}),
		TokensMinted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "usher_access_tokens_minted_total",
			Help: "Total number of access tokens minted",
		}),
		TokensRefreshed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "usher_access_tokens_refreshed_total",
			Help: "Total number of access tokens minted via refresh",
		}),
		RateLimitRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "usher_rate_limit_rejections_total",
			Help: "Total number of challenge requests rejected by the rate limiter, labeled by scope",
		}, []string{"scope"}),
		Suspensions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "usher_suspensions_total",
			Help: "Total number of identities suspended after repeated failures",
		}),
		RefreshRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "usher_refresh_tokens_revoked_total",
			Help: "Total number of refresh tokens revoked by logout",
		}),
		RefreshReaped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "usher_refresh_tokens_reaped_total",
			Help: "Total number of expired refresh tokens removed by the cleanup worker",
		}),
		AuditFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "usher_audit_failures_total",
			Help: "Total number of audit events dropped or failed to publish",
		}),
		EndpointLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usher_endpoint_latency_seconds",
			Help:    "Latency of endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}

func (m *Metrics) IncrementChallengesIssued() {
	m.ChallengesIssued.Inc()
}

func (m *Metrics) IncrementDeliveryFailures() {
	m.DeliveryFailures.Inc()
}

// RecordRedeemOutcome tracks redeem results by their domain error code,
// with "success" for redemptions that produced a session.
func (m *Metrics) RecordRedeemOutcome(outcome string) {
	m.RedeemOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementTokensMinted() {
	m.TokensMinted.Inc()
}

func (m *Metrics) IncrementTokensRefreshed() {
	m.TokensRefreshed.Inc()
}

// RecordRateLimitRejection tracks limiter rejections; scope is "identity" or "origin".
func (m *Metrics) RecordRateLimitRejection(scope string) {
	m.RateLimitRejected.WithLabelValues(scope).Inc()
}

func (m *Metrics) IncrementSuspensions() {
	m.Suspensions.Inc()
}

func (m *Metrics) IncrementRefreshRevoked(count int) {
	m.RefreshRevoked.Add(float64(count))
}

func (m *Metrics) IncrementRefreshReaped(count int) {
	m.RefreshReaped.Add(float64(count))
}

func (m *Metrics) IncrementAuditFailures() {
	m.AuditFailures.Inc()
}

// ObserveEndpointLatency records the latency for a given endpoint.
func (m *Metrics) ObserveEndpointLatency(endpoint string, durationSeconds float64) {
	m.EndpointLatency.WithLabelValues(endpoint).Observe(durationSeconds)
}
