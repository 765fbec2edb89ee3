// internal/metrics/metrics.go
//
// Prometheus metrics updated across the trade pipeline:
//   - bot_events_total{result}: webhook events (processed|deduplicated|unqualified)
//   - bot_trades_total{side,result}: mirrored swaps (buy|sell, ok|failed)
//   - bot_signals_total{event}: signal lifecycle (opened|merged)
//   - bot_signal_exits_total{reason}: closes split by reason
//   - bot_open_signals: currently open signals (gauge)
//
// Served by the ingress router at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Events = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_events_total",
			Help: "Webhook events by processing result",
		},
		[]string{"result"},
	)

	Trades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_trades_total",
			Help: "Mirrored swaps by side and result",
		},
		[]string{"side", "result"},
	)

	Signals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_signals_total",
			Help: "Signal lifecycle events",
		},
		[]string{"event"},
	)

	SignalExits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_signal_exits_total",
			Help: "Signal closes split by reason",
		},
		[]string{"reason"},
	)

	OpenSignals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_open_signals",
			Help: "Currently open signals",
		},
	)
)

// Handler serves the Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
