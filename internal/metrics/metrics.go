// Package metrics holds the prometheus collectors of the voting backend.
package metrics

import (
	"time"

	"github.com/lvdashuaibi/contestvote/internal/model"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "contestvote"

type Metrics struct {
	voteSubmissions  *prometheus.CounterVec
	voteSubmitTime   prometheus.Histogram
	ticketsGenerated prometheus.Counter
	votingOpen       prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		voteSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vote_submissions_total",
			Help:      "Vote submissions by outcome kind.",
		}, []string{"outcome"}),
		voteSubmitTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vote_submit_seconds",
			Help:      "Time spent in the vote submission transaction.",
			Buckets:   prometheus.DefBuckets,
		}),
		ticketsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_generated_total",
			Help:      "Tickets created by generation or import.",
		}),
		votingOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voting_open",
			Help:      "1 while votes are accepted.",
		}),
	}

	reg.MustRegister(m.voteSubmissions, m.voteSubmitTime, m.ticketsGenerated, m.votingOpen)
	return m
}

func (m *Metrics) ObserveVote(kind model.OutcomeKind, elapsed time.Duration) {
	m.voteSubmissions.WithLabelValues(string(kind)).Inc()
	m.voteSubmitTime.Observe(elapsed.Seconds())
}

func (m *Metrics) AddTicketsGenerated(n int) {
	if n > 0 {
		m.ticketsGenerated.Add(float64(n))
	}
}

func (m *Metrics) SetVotingOpen(open bool) {
	if open {
		m.votingOpen.Set(1)
		return
	}
	m.votingOpen.Set(0)
}
