// Package metrics holds the Prometheus collectors for monitoring the bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	// MessagesReceived counts every inbound message handled
	MessagesReceived prometheus.Counter

	// VotesCast counts recorded votes, labeled by ballot kind
	VotesCast *prometheus.CounterVec

	// PartiesCreated counts successfully created parties
	PartiesCreated prometheus.Counter

	// PartiesResolved counts parties torn down after reaching quorum
	PartiesResolved prometheus.Counter

	// SessionsEnded counts sessions deleted, labeled by reason
	SessionsEnded *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tender",
				Name:      "messages_received_total",
				Help:      "Inbound messages handled",
			},
		),
		VotesCast: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tender",
				Name:      "votes_cast_total",
				Help:      "Votes recorded by ballot kind",
			},
			[]string{"kind"},
		),
		PartiesCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tender",
				Name:      "parties_created_total",
				Help:      "Parties created",
			},
		),
		PartiesResolved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tender",
				Name:      "parties_resolved_total",
				Help:      "Parties resolved after reaching quorum",
			},
		),
		SessionsEnded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tender",
				Name:      "sessions_ended_total",
				Help:      "Sessions deleted by reason",
			},
			[]string{"reason"},
		),
	}
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.MessagesReceived,
		m.VotesCast,
		m.PartiesCreated,
		m.PartiesResolved,
		m.SessionsEnded,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
