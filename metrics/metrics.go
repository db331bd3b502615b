// Package metrics exposes Prometheus counters and gauges for token
// issuance, vote intake, and election status transitions, following the
// sync.Once-guarded singleton registry pattern of
// observability/metrics/potso.go, adapted from epoch/reward counters to
// election-domain ones.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ECMetrics holds every counter/gauge the EC's components report into.
type ECMetrics struct {
	tokensIssued      *prometheus.CounterVec
	tokenIssuanceFail *prometheus.CounterVec
	votesReceived     *prometheus.CounterVec
	voteRejected      *prometheus.CounterVec
	statusTransition  *prometheus.CounterVec
	authorizedVoters  *prometheus.GaugeVec
	relayPublishFail  *prometheus.CounterVec
}

var (
	once     sync.Once
	registry *ECMetrics
)

// EC returns the process-wide metrics registry, registering it with the
// default Prometheus registerer on first use.
func EC() *ECMetrics {
	once.Do(func() {
		registry = &ECMetrics{
			tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ec_tokens_issued_total",
				Help: "Count of blind-signature tokens issued, by election.",
			}, []string{"election_id"}),
			tokenIssuanceFail: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ec_token_issuance_failed_total",
				Help: "Count of rejected token requests, by election and reason.",
			}, []string{"election_id", "reason"}),
			votesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ec_votes_received_total",
				Help: "Count of votes accepted, by election.",
			}, []string{"election_id"}),
			voteRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ec_vote_rejected_total",
				Help: "Count of rejected votes, by election and reason.",
			}, []string{"election_id", "reason"}),
			statusTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ec_status_transitions_total",
				Help: "Count of election status transitions, by election and new status.",
			}, []string{"election_id", "status"}),
			authorizedVoters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "ec_authorized_voters",
				Help: "Current size of the still-authorized voter set, by election.",
			}, []string{"election_id"}),
			relayPublishFail: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ec_relay_publish_failed_total",
				Help: "Count of failed event publishes, by relay URL.",
			}, []string{"relay"}),
		}
		prometheus.MustRegister(
			registry.tokensIssued,
			registry.tokenIssuanceFail,
			registry.votesReceived,
			registry.voteRejected,
			registry.statusTransition,
			registry.authorizedVoters,
			registry.relayPublishFail,
		)
	})
	return registry
}

func (m *ECMetrics) ObserveTokenIssued(electionID string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(electionID).Inc()
}

func (m *ECMetrics) ObserveTokenIssuanceFailed(electionID, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.tokenIssuanceFail.WithLabelValues(electionID, reason).Inc()
}

func (m *ECMetrics) ObserveVoteReceived(electionID string) {
	if m == nil {
		return
	}
	m.votesReceived.WithLabelValues(electionID).Inc()
}

func (m *ECMetrics) ObserveVoteRejected(electionID, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.voteRejected.WithLabelValues(electionID, reason).Inc()
}

func (m *ECMetrics) ObserveStatusTransition(electionID, status string) {
	if m == nil {
		return
	}
	m.statusTransition.WithLabelValues(electionID, status).Inc()
}

func (m *ECMetrics) SetAuthorizedVoters(electionID string, count float64) {
	if m == nil {
		return
	}
	m.authorizedVoters.WithLabelValues(electionID).Set(count)
}

func (m *ECMetrics) ObserveRelayPublishFailed(relayURL string) {
	if m == nil {
		return
	}
	m.relayPublishFail.WithLabelValues(relayURL).Inc()
}
