// Package metrics 提供 Prometheus 指标收集。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor 持有本进程的指标集合，挂在独立 registry 上。
type Monitor struct {
	registry *prometheus.Registry

	QuotesGenerated  prometheus.Counter
	OrdersPlaced     prometheus.Counter
	OrdersCanceled   prometheus.Counter
	OrdersRejected   prometheus.Counter
	FillsApplied     prometheus.Counter
	RiskRejects      prometheus.Counter
	ReplacementsLost prometheus.Counter
	BreakerTrips     prometheus.Counter
	CycleErrors      prometheus.Counter

	BreakerState  prometheus.Gauge // 0=normal 1=tripped
	Position      prometheus.Gauge
	RealizedPnL   prometheus.Gauge
	MidPrice      prometheus.Gauge
	SpreadPct     prometheus.Gauge
	RestingOrders prometheus.Gauge

	CycleDuration prometheus.Histogram
}

// New 创建 Monitor。namespace 通常为 "quoter"。
func New(namespace string) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}

	return &Monitor{
		registry: reg,

		QuotesGenerated:  counter("quotes_generated_total", "Proposals generated"),
		OrdersPlaced:     counter("orders_placed_total", "Orders placed"),
		OrdersCanceled:   counter("orders_canceled_total", "Orders canceled"),
		OrdersRejected:   counter("orders_rejected_total", "Orders rejected by the exchange"),
		FillsApplied:     counter("fills_applied_total", "Terminal fill events applied"),
		RiskRejects:      counter("risk_rejects_total", "Candidates rejected by the risk gate"),
		ReplacementsLost: counter("replacements_lost_total", "Replace operations that lost the order"),
		BreakerTrips:     counter("breaker_trips_total", "Circuit breaker trips"),
		CycleErrors:      counter("cycle_errors_total", "Cycles skipped on errors"),

		BreakerState:  gauge("breaker_state", "Circuit breaker state (0=normal, 1=tripped)"),
		Position:      gauge("position", "Open position quantity"),
		RealizedPnL:   gauge("realized_pnl", "Cumulative realized PnL"),
		MidPrice:      gauge("mid_price", "Last observed mid price"),
		SpreadPct:     gauge("spread_pct", "Last observed spread percent"),
		RestingOrders: gauge("resting_orders", "Resting orders tracked locally"),

		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Full decision cycle duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
}

// Handler 返回 /metrics 的 HTTP handler。
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
