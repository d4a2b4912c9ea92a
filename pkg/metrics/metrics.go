package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProposalsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "governance_proposals_created_total",
			Help: "The total number of proposals created",
		},
	)

	VotesCast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_votes_cast_total",
			Help: "The total number of votes cast, by support option",
		},
		[]string{"support"},
	)

	ProposalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_proposal_transitions_total",
			Help: "The total number of proposal state transitions",
		},
		[]string{"state"},
	)

	ExecutionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_execution_attempts_total",
			Help: "The total number of timelock execution attempts, by outcome",
		},
		[]string{"outcome"},
	)

	CheckpointsAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "governance_checkpoints_appended_total",
			Help: "The total number of voting power checkpoints appended",
		},
	)

	LastAppliedSeq = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "governance_last_applied_seq",
			Help: "The last ledger sequence number applied to the voting power ledger",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "governance_notifications_dropped_total",
			Help: "The total number of governance notifications dropped by slow subscribers",
		},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "governance_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	ChainAPIRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chain_api_request_duration_seconds",
			Help:    "Duration of chain ledger API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ChainAPIRequestErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chain_api_request_errors_total",
			Help: "The total number of chain ledger API request errors",
		},
	)

	PollingErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "governance_polling_errors_total",
			Help: "The total number of ledger event polling errors",
		},
	)

	HistoricalIndexingProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "governance_historical_indexing_progress",
			Help: "Progress of historical ledger event indexing (0-100)",
		},
	)
)

func RecordAPIRequest(endpoint, method string, status int, duration float64) {
	APIRequestDuration.WithLabelValues(endpoint, method, strconv.Itoa(status)).Observe(duration)
}

func RecordVoteCast(support string) {
	VotesCast.WithLabelValues(support).Inc()
}

func RecordProposalTransition(state string) {
	ProposalTransitions.WithLabelValues(state).Inc()
}

func RecordExecutionAttempt(outcome string) {
	ExecutionAttempts.WithLabelValues(outcome).Inc()
}

func UpdateLastAppliedSeq(seq uint64) {
	LastAppliedSeq.Set(float64(seq))
}

func RecordChainAPIRequest(duration float64, success bool) {
	ChainAPIRequestDuration.Observe(duration)
	if !success {
		ChainAPIRequestErrors.Inc()
	}
}
