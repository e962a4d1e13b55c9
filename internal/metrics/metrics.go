// Package metrics exposes Prometheus metrics for the trading workers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Ticks          *prometheus.CounterVec
	TickDuration   *prometheus.HistogramVec
	FetchErrors    *prometheus.CounterVec
	Signals        *prometheus.CounterVec
	Orders         *prometheus.CounterVec
	TradesClosed   *prometheus.CounterVec
	RealizedPnL    *prometheus.GaugeVec
	Balance        *prometheus.GaugeVec
	PositionOpen   *prometheus.GaugeVec
	UnresolvedOpen *prometheus.GaugeVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "autotrader"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Ticks processed, by outcome",
		}, []string{"symbol", "outcome"}),
		TickDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one tick including data fetch",
			Buckets:   prometheus.DefBuckets,
		}, []string{"symbol"}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Market data fetch attempts that failed",
		}, []string{"symbol"}),
		Signals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Signals generated, by direction",
		}, []string{"symbol", "direction"}),
		Orders: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Orders submitted, by side and result",
		}, []string{"symbol", "side", "result"}),
		TradesClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_closed_total",
			Help:      "Closed positions, by exit reason",
		}, []string{"symbol", "reason"}),
		RealizedPnL: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_pnl",
			Help:      "Cumulative realized profit and loss",
		}, []string{"symbol"}),
		Balance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance",
			Help:      "Cash plus open position at cost",
		}, []string{"symbol"}),
		PositionOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_open",
			Help:      "1 while a position is open",
		}, []string{"symbol"}),
		UnresolvedOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_unresolved",
			Help:      "1 while an order outcome is unknown",
		}, []string{"symbol"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func (m *Metrics) SetPosition(symbol string, open, unresolved bool) {
	m.PositionOpen.WithLabelValues(symbol).Set(boolGauge(open))
	m.UnresolvedOpen.WithLabelValues(symbol).Set(boolGauge(unresolved))
}
