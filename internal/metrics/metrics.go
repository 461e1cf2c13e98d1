// Package metrics exposes the coordinator's Prometheus counters and
// histograms, scraped from the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "infermarket_sessions_created_total",
		Help: "Total sessions created, by payment method.",
	}, []string{"payment_method"})

	SessionsSettledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "infermarket_sessions_settled_total",
		Help: "Total sessions that reached a terminal state, by reason.",
	}, []string{"reason"})

	ReservationConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "infermarket_reservation_conflicts_total",
		Help: "Total NewSession calls that lost the node reservation race.",
	})

	SettlementAmountSats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "infermarket_settlement_amount_sats_total",
		Help: "Total sats charged across all settled sessions.",
	})

	LightningGatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "infermarket_lightning_gateway_latency_seconds",
		Help:    "Latency of Lightning Gateway RPCs, by method.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	NodeRPCLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "infermarket_node_rpc_latency_seconds",
		Help:    "Latency of Node RPC calls, by method.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "infermarket_active_sessions",
		Help: "Number of sessions currently in the active state.",
	})

	NodesOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "infermarket_nodes_online",
		Help: "Number of nodes currently online or busy.",
	})

	NodeEventsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "infermarket_node_events_processed_total",
		Help: "Total node_events stream messages processed by the node event worker, by event.",
	}, []string{"event"})

	NodeHeartbeatEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "infermarket_node_heartbeat_events_total",
		Help: "Total heartbeat audit events observed on the node_heartbeats stream.",
	})
)
