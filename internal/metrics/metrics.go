// Package metrics exposes Prometheus counters for the gallery service.
// Rejections are silent on the API surface but always countable here.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpdatesAccepted counts profile updates that passed the rejection policy.
	UpdatesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gallery",
		Name:      "updates_accepted_total",
		Help:      "Profile updates accepted and aggregated",
	})

	// UpdatesRejected counts silently rejected profile updates by reason.
	UpdatesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gallery",
		Name:      "updates_rejected_total",
		Help:      "Profile updates rejected by the quality floor",
	}, []string{"reason"})

	// MatchesScored counts match queries by outcome.
	MatchesScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gallery",
		Name:      "matches_total",
		Help:      "Match queries by outcome (matched, no_match, invalid_query)",
	}, []string{"outcome"})

	// RecoveryEvents counts persistence corruption recoveries by stage.
	RecoveryEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gallery",
		Name:      "snapshot_recoveries_total",
		Help:      "Snapshot load recoveries by stage (repair, salvage, reset)",
	}, []string{"stage"})

	// Evictions counts reference frames dropped by pool eviction.
	Evictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gallery",
		Name:      "pool_evictions_total",
		Help:      "Reference frames dropped by pool eviction",
	})
)
