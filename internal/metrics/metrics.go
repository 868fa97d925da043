// Package metrics exposes Prometheus counters and gauges shared across the
// three pipeline services. Every metric is registered at package init in
// each service that imports this package; each service updates the ones it
// produces and serves them on its own /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Depth Engine metrics.
var (
	FramesEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "depth_frames_emitted_total",
		Help: "Feature frames successfully emitted.",
	})
	FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "depth_frames_dropped_total",
		Help: "Inbound depth frames dropped, by reason.",
	}, []string{"reason"})
	BookSequenceID = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "depth_book_sequence_id",
		Help: "Current feature frame sequence id.",
	})
)

// Decision Relay metrics.
var (
	ActionsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_actions_published_total",
		Help: "Action frames published to the oms exchange.",
	})
	ExplorationFlips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_exploration_flips_total",
		Help: "Decisions whose price_offset was negated by the exploration gate.",
	})
	TradesCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_trades_completed_total",
		Help: "Trade skeletons completed and handed to the training hook.",
	})
)

// Lifecycle Engine metrics.
var (
	OrdersSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lifecycle_orders_submitted_total",
		Help: "Orders submitted to the exchange, by side.",
	}, []string{"side"})
	OrdersRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lifecycle_orders_rejected_total",
		Help: "Orders dropped before submission, by reason.",
	}, []string{"reason"})
	FillsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lifecycle_fills_processed_total",
		Help: "Fill events that advanced trade state.",
	})
	FillsIgnored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lifecycle_fills_ignored_total",
		Help: "Fill events ignored, by reason.",
	}, []string{"reason"})
	TradeReward = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lifecycle_last_trade_reward",
		Help: "Reward computed at the most recent trade closure.",
	})
	MaxDrawdown = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lifecycle_current_maxdd",
		Help: "Most-negative unrealised-PnL ratio observed in the current trade.",
	})
	CancelQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lifecycle_cancel_queue_depth",
		Help: "Entries currently queued for cancellation.",
	})
	ActiveOrders = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lifecycle_active_orders",
		Help: "Entries currently in the active-orders deque.",
	})
	FlowToxicity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lifecycle_flow_toxicity_score",
		Help: "Share of recent fills on the dominant side, in [0,1].",
	})
)

func init() {
	prometheus.MustRegister(
		FramesEmitted, FramesDropped, BookSequenceID,
		ActionsPublished, ExplorationFlips, TradesCompleted,
		OrdersSubmitted, OrdersRejected, FillsProcessed, FillsIgnored,
		TradeReward, MaxDrawdown, CancelQueueDepth, ActiveOrders, FlowToxicity,
	)
}

// Serve starts a background HTTP server exposing /metrics and /healthz on
// addr. It returns immediately; the server runs until the process exits.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
