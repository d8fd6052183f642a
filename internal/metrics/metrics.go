// Package metrics exposes Prometheus instrumentation for the trading loop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors updated by the bot every cycle.
type Metrics struct {
	Equity        prometheus.Gauge
	PeakEquity    prometheus.Gauge
	Drawdown      prometheus.Gauge
	PortfolioHeat prometheus.Gauge
	OpenPositions prometheus.Gauge

	CyclesTotal   prometheus.Counter
	TradesTotal   *prometheus.CounterVec
	OrderFailures prometheus.Counter

	CycleDuration prometheus.Histogram

	registry *prometheus.Registry
}

// New builds a metrics set on its own registry so tests can run in parallel.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Equity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trader_equity",
			Help: "Current account equity in quote currency.",
		}),
		PeakEquity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trader_peak_equity",
			Help: "Highest equity seen since start.",
		}),
		Drawdown: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trader_drawdown",
			Help: "Current drawdown from peak equity as a fraction.",
		}),
		PortfolioHeat: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trader_portfolio_heat",
			Help: "Sum of open position risk as a fraction of equity.",
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trader_open_positions",
			Help: "Number of currently open positions.",
		}),
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "trader_cycles_total",
			Help: "Completed trading cycles.",
		}),
		TradesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_trades_total",
			Help: "Closed trades by outcome.",
		}, []string{"outcome"}),
		OrderFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "trader_order_failures_total",
			Help: "Orders rejected by the venue.",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_cycle_duration_seconds",
			Help:    "Wall time per trading cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		registry: reg,
	}
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTrade bumps the trade counter with a win/loss outcome label.
func (m *Metrics) RecordTrade(pnl float64) {
	outcome := "loss"
	if pnl > 0 {
		outcome = "win"
	}
	m.TradesTotal.WithLabelValues(outcome).Inc()
}
