// Package metrics holds the Prometheus collectors for ingestion, aggregation and viewer push.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "uadashboard"

var (
	// MessagesReceived counts raw messages handed to the processor, by transport.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_received_total",
		Help:      "Raw messages received from a transport.",
	}, []string{"transport"})

	// Envelopes counts decode results by kind (metadata, data, malformed).
	Envelopes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "envelopes_total",
		Help:      "Decoded envelopes by result kind.",
	}, []string{"kind", "format"})

	// UpdatesApplied counts flattened field updates applied to the store.
	UpdatesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "updates_applied_total",
		Help:      "Field updates applied to the aggregation store.",
	})

	// Columns tracks the current number of display names in the store.
	Columns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "columns",
		Help:      "Display names currently known to the aggregation store.",
	})

	// Schemas tracks registered stream schemas.
	Schemas = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "schemas",
		Help:      "Stream schemas held by the registry.",
	})

	// PushTicks counts scheduler ticks.
	PushTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_ticks_total",
		Help:      "Live push scheduler ticks.",
	})

	// RowsPushed counts chart rows forwarded to viewers.
	RowsPushed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_pushed_total",
		Help:      "Chart rows forwarded to the push channel.",
	})

	// Viewers tracks connected viewers.
	Viewers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "viewers",
		Help:      "Connected live viewers.",
	})

	// ViewerDrops counts messages dropped for a viewer, by reason.
	ViewerDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "viewer_drops_total",
		Help:      "Messages not delivered to a viewer.",
	}, []string{"reason"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
