// Package metrics defines the Prometheus collectors for the chat relay and
// an exporter that serves them over HTTP on a dedicated listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TurnsTotal counts chat turns by terminal outcome: ok, invalid,
	// rate_limited, coin_shortage, provider_error.
	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fogchat_chat_turns_total",
			Help: "Chat turns handled, labelled by terminal outcome.",
		},
		[]string{"outcome"},
	)

	// ProviderAttempts counts individual completion attempts per provider.
	ProviderAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fogchat_provider_attempts_total",
			Help: "Upstream completion attempts, labelled by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	// RateLimitRejections counts requests rejected by the session throttle.
	RateLimitRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fogchat_rate_limit_rejections_total",
			Help: "Requests rejected by the per-session rate limiter.",
		},
	)

	// HistoryCacheHits counts history reads served from the TTL cache.
	HistoryCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fogchat_history_cache_hits_total",
			Help: "Conversation history reads served from cache.",
		},
	)

	// HistoryCacheMisses counts history reads that went to the database.
	HistoryCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fogchat_history_cache_misses_total",
			Help: "Conversation history reads that fell through to the database.",
		},
	)
)

// allMetrics lists every collector the exporter registers.
var allMetrics = []prometheus.Collector{
	TurnsTotal,
	ProviderAttempts,
	RateLimitRejections,
	HistoryCacheHits,
	HistoryCacheMisses,
}
