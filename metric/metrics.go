package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/twopc-transfer/common"
)

// Metrics collects protocol-level counters for the coordinator. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	transactions *prometheus.CounterVec
	votes        *prometheus.CounterVec
	phaseSeconds *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Total number of transactions per final outcome",
			},
			[]string{"outcome"},
		),
		votes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "votes_total",
				Help:      "Total number of prepare votes per participant and status",
			},
			[]string{"participant", "vote"},
		),
		phaseSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of protocol phases",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
	}
	reg.MustRegister(m.transactions, m.votes, m.phaseSeconds)
	return m
}

// ObserveOutcome counts one finished transaction.
func (m *Metrics) ObserveOutcome(outcome common.Outcome) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(string(outcome)).Inc()
}

// ObserveVote counts one prepare vote.
func (m *Metrics) ObserveVote(participant string, vote common.VoteStatus) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(participant, string(vote)).Inc()
}

// ObservePhase records the duration of one protocol phase.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseSeconds.WithLabelValues(phase).Observe(d.Seconds())
}
