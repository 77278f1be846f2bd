// Package metrics holds the Prometheus collectors shared by the bot, the
// search pipeline and the reaper. Label sets are kept small: plugin and
// source names are fixed at startup.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// PluginInvocations counts chain handler calls by outcome (handled, passed, error, panic)
	PluginInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_plugin_invocations_total",
			Help: "Plugin handler invocations by result.",
		},
		[]string{"plugin", "result"},
	)

	// Ticks counts poll ticks by outcome (dispatched, busy, no_messages, no_listing, ...)
	Ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_ticks_total",
			Help: "Conversation poll ticks by outcome.",
		},
		[]string{"outcome"},
	)

	SearchSourceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_search_source_duration_seconds",
			Help:    "Latency of third-party search sources.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"source"},
	)

	SearchSourceResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_search_source_results_total",
			Help: "Search source calls by outcome (ok, empty, error, timeout).",
		},
		[]string{"source", "outcome"},
	)

	Transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_transfers_total",
			Help: "Drive transfers by outcome (new, reused, failed).",
		},
		[]string{"drive", "outcome"},
	)

	Reaped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_reaped_total",
			Help: "Expired drive resources deleted by the reaper.",
		},
		[]string{"drive"},
	)

	Notices = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_notices_total",
			Help: "Operator notices by channel and outcome (sent, failed, deduped).",
		},
		[]string{"channel", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		PluginInvocations,
		Ticks,
		SearchSourceDuration,
		SearchSourceResults,
		Transfers,
		Reaped,
		Notices,
	)
}
