// Package metrics holds the Prometheus collectors of the economy service.
// Collectors register on the default registry, which /metrics serves.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "economy_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "economy_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "route"})

	// ListingEvents counts listing lifecycle transitions. listing is
	// market_order or trade_offer; event is created, filled, canceled or
	// expired.
	ListingEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "economy_listing_events_total",
		Help: "Market order and trade offer lifecycle transitions",
	}, []string{"listing", "event"})

	FeesBurned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "economy_market_fees_burned_total",
		Help: "Currency removed from circulation by market fees",
	}, []string{"currency"})

	RewardsRolled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "economy_rewards_rolled_total",
		Help: "Loot table draws by outcome kind",
	}, []string{"table", "kind"})

	TxRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "economy_store_tx_retries_total",
		Help: "Transactions retried after a serialization failure or deadlock",
	})
)

// Listing records one lifecycle transition.
func Listing(listing, event string) {
	ListingEvents.WithLabelValues(listing, event).Inc()
}
