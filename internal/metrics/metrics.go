// Package metrics holds the Prometheus collectors shared by the pipeline
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesDiscovered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatguard_messages_discovered_total",
			Help: "Message nodes that passed extraction and the dedup ledger, by surface.",
		},
		[]string{"surface"},
	)
	MessagesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatguard_messages_skipped_total",
			Help: "Message nodes dropped before classification, by surface and reason.",
		},
		[]string{"surface", "reason"},
	)
	Classifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatguard_classifications_total",
			Help: "Classifier calls by outcome (ok, encode, transport, status, decode).",
		},
		[]string{"outcome"},
	)
	ClassifyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatguard_classify_duration_seconds",
			Help:    "Latency of classifier calls in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	BadgesAttached = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatguard_badges_attached_total",
			Help: "Badges attached to message nodes, by label.",
		},
		[]string{"label"},
	)
	LedgerEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatguard_ledger_entries",
			Help: "Distinct message texts held by each dedup ledger, by page and surface.",
		},
		[]string{"page", "surface"},
	)
	SupervisorOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatguard_supervisor_outcomes_total",
			Help: "Bootstrap supervisors reaching a terminal state, by state.",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(MessagesDiscovered)
	prometheus.MustRegister(MessagesSkipped)
	prometheus.MustRegister(Classifications)
	prometheus.MustRegister(ClassifyDuration)
	prometheus.MustRegister(BadgesAttached)
	prometheus.MustRegister(LedgerEntries)
	prometheus.MustRegister(SupervisorOutcomes)
}
