// Package metrics exposes the session's Prometheus instrumentation and
// the HTTP endpoint that serves it. Counters/gauges/histograms are
// registered once at package init and incremented from every package
// that owns a suspension-point boundary (REST calls, WS frames, lock
// hold spans, reconnects, gaps, fills, risk trips). Grounded on the
// teacher's internal/api/server.go http.Server Start/Stop skeleton,
// with the dashboard WebSocket Hub replaced by a plain
// prometheus/client_golang registry and handler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reconnects counts exchange/signal WebSocket reconnect attempts,
	// labeled by which socket reconnected.
	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kt",
		Name:      "reconnects_total",
		Help:      "Total WebSocket reconnect attempts.",
	}, []string{"socket"})

	// Gaps counts sequence-number gaps detected in the order book.
	Gaps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kt",
		Name:      "orderbook_gaps_total",
		Help:      "Total order book sequence gaps detected.",
	}, []string{"ticker"})

	// Fills counts fills received on the exchange socket, labeled by side.
	Fills = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kt",
		Name:      "fills_total",
		Help:      "Total fills processed.",
	}, []string{"side"})

	// RiskTrips counts RiskLimitExceeded occurrences, labeled by kind.
	RiskTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kt",
		Name:      "risk_trips_total",
		Help:      "Total risk limit violations raised.",
	}, []string{"kind"})

	// ReconcileLatency observes how long reconcile took end to end.
	ReconcileLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kt",
		Name:      "reconcile_latency_seconds",
		Help:      "Latency of the reconcile cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	// LockHoldDuration observes how long execLock was held per acquisition.
	LockHoldDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kt",
		Name:      "exec_lock_hold_seconds",
		Help:      "Duration the executor's execution lock was held.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
	})

	// RESTLatency observes REST call latency, labeled by route.
	RESTLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kt",
		Name:      "rest_latency_seconds",
		Help:      "Latency of outbound REST calls to the exchange.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// Inventory reports the current signed inventory.
	Inventory = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kt",
		Name:      "inventory",
		Help:      "Current signed contract inventory.",
	})

	// Balance reports the current account balance in dollars.
	Balance = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kt",
		Name:      "balance_dollars",
		Help:      "Current account balance in dollars.",
	})
)

// ObserveLockHold is a convenience for `defer
// metrics.ObserveLockHold(time.Now())` around an execLock critical
// section.
func ObserveLockHold(start time.Time) {
	LockHoldDuration.Observe(time.Since(start).Seconds())
}
