// Package observability provides Prometheus metrics for the simulation, live execution and backtest paths.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "grid_executor"

// Metrics holds every collector of the process. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	// Simulation
	TicksProcessed *prometheus.CounterVec
	Recenters      *prometheus.CounterVec
	InstancesDead  prometheus.Counter
	RankingPasses  prometheus.Counter

	// Live execution
	OrdersPlaced     *prometheus.CounterVec
	OrdersFailed     *prometheus.CounterVec
	OrderEvents      *prometheus.CounterVec
	OrderTimeouts    prometheus.Counter
	InstanceSwitches prometheus.Counter
	ManagedCapital   prometheus.Gauge
	RestingOrders    prometheus.Gauge

	// Exchange
	ExchangeCallLatency *prometheus.HistogramVec
	ExchangeRetries     *prometheus.CounterVec

	// Backtest
	BacktestConfigs  *prometheus.CounterVec
	BacktestDuration prometheus.Histogram
}

// NewMetrics registers all collectors on reg; a nil reg uses a fresh private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TicksProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "ticks_processed_total",
			Help:      "Ticks fanned out to simulation instances",
		}, []string{"pair"}),
		Recenters: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "recenters_total",
			Help:      "Lattice rebuilds by trigger",
		}, []string{"reason"}),
		InstancesDead: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "instances_dead_total",
			Help:      "Instances that exhausted their capital",
		}),
		RankingPasses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "leaderboard",
			Name:      "passes_total",
			Help:      "Leaderboard ranking passes",
		}),

		OrdersPlaced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "orders_placed_total",
			Help:      "Exchange orders accepted",
		}, []string{"pair", "side"}),
		OrdersFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "orders_failed_total",
			Help:      "Exchange order placements that failed, by error class",
		}, []string{"pair", "class"}),
		OrderEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "order_events_total",
			Help:      "Order events reconciled by status",
		}, []string{"status"}),
		OrderTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "order_timeouts_total",
			Help:      "Resting orders cancelled after the fill timeout",
		}),
		InstanceSwitches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "instance_switches_total",
			Help:      "Adoptions of a new active instance",
		}),
		ManagedCapital: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "managed_capital",
			Help:      "Last observed account balance",
		}),
		RestingOrders: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "resting_orders",
			Help:      "Live order records awaiting a terminal event",
		}),

		ExchangeCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "call_duration_seconds",
			Help:      "Exchange call latency including retries",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"exchange", "operation", "result"}),
		ExchangeRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "retries_total",
			Help:      "Immediate retries of transient exchange errors",
		}, []string{"exchange", "operation"}),

		BacktestConfigs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "configs_total",
			Help:      "Backtest configurations by outcome",
		}, []string{"status"}),
		BacktestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of a backtest batch",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordTick(pair string) {
	if m == nil {
		return
	}
	m.TicksProcessed.WithLabelValues(pair).Inc()
}

func (m *Metrics) RecordRecenter(reason string) {
	if m == nil {
		return
	}
	m.Recenters.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordDeath() {
	if m == nil {
		return
	}
	m.InstancesDead.Inc()
}

func (m *Metrics) RecordRankingPass() {
	if m == nil {
		return
	}
	m.RankingPasses.Inc()
}

func (m *Metrics) RecordOrderPlaced(pair, side string) {
	if m == nil {
		return
	}
	m.OrdersPlaced.WithLabelValues(pair, side).Inc()
}

func (m *Metrics) RecordOrderFailed(pair, class string) {
	if m == nil {
		return
	}
	m.OrdersFailed.WithLabelValues(pair, class).Inc()
}

func (m *Metrics) RecordOrderEvent(status string) {
	if m == nil {
		return
	}
	m.OrderEvents.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordOrderTimeout() {
	if m == nil {
		return
	}
	m.OrderTimeouts.Inc()
}

func (m *Metrics) RecordSwitch() {
	if m == nil {
		return
	}
	m.InstanceSwitches.Inc()
}

func (m *Metrics) SetManagedCapital(v float64) {
	if m == nil {
		return
	}
	m.ManagedCapital.Set(v)
}

func (m *Metrics) SetRestingOrders(n int) {
	if m == nil {
		return
	}
	m.RestingOrders.Set(float64(n))
}

// RecordExchangeCall observes one exchange operation started at start.
func (m *Metrics) RecordExchangeCall(exchange, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ExchangeCallLatency.WithLabelValues(exchange, operation, result).Observe(time.Since(start).Seconds())
}

func (m *Metrics) RecordRetry(exchange, operation string) {
	if m == nil {
		return
	}
	m.ExchangeRetries.WithLabelValues(exchange, operation).Inc()
}

func (m *Metrics) RecordBacktestConfig(status string) {
	if m == nil {
		return
	}
	m.BacktestConfigs.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordBacktestBatch(start time.Time) {
	if m == nil {
		return
	}
	m.BacktestDuration.Observe(time.Since(start).Seconds())
}
