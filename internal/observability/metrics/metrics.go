// Package metrics registers the engine's prometheus collectors under the
// predcore namespace, following the teacher's sync.Once-guarded singleton
// registry idiom (observability/metrics.go's ModuleMetrics/SwapStable/
// Payoutd pattern) generalized from request/error/latency counters to the
// engine's own domain signals: trades, fees, AMM convergence, liquidations,
// cascade halts, chain lifecycle, and vault coverage.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine bundles every collector the core engine records against.
type Engine struct {
	tradesExecuted *prometheus.CounterVec
	feeBps         *prometheus.HistogramVec
	ammIterations  *prometheus.HistogramVec
	liquidations   *prometheus.CounterVec
	cascadeHalts   *prometheus.CounterVec
	chainOpens     *prometheus.CounterVec
	chainUnwinds   *prometheus.CounterVec
	coverageRatio  prometheus.Gauge
}

var (
	once     sync.Once
	registry *Engine
)

// Registry returns the lazily-initialized, process-wide metrics registry.
func Registry() *Engine {
	once.Do(func() {
		registry = &Engine{
			tradesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "predcore",
				Subsystem: "amm",
				Name:      "trades_executed_total",
				Help:      "Total trades executed, segmented by market and direction.",
			}, []string{"market", "direction"}),
			feeBps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "predcore",
				Subsystem: "fee",
				Name:      "charged_bps",
				Help:      "Distribution of the effective fee rate charged per trade, in basis points.",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			}, []string{"market"}),
			ammIterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "predcore",
				Subsystem: "amm",
				Name:      "convergence_iterations",
				Help:      "Iterations the L2 AMM's numerical solver took to converge.",
				Buckets:   prometheus.LinearBuckets(1, 2, 10),
			}, []string{"market"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "predcore",
				Subsystem: "liquidation",
				Name:      "seizures_total",
				Help:      "Total liquidation seizures, segmented by ladder band.",
			}, []string{"market", "band"}),
			cascadeHalts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "predcore",
				Subsystem: "liquidation",
				Name:      "cascade_halts_total",
				Help:      "Total cascade-halt triggers, segmented by market.",
			}, []string{"market"}),
			chainOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "predcore",
				Subsystem: "chain",
				Name:      "opens_total",
				Help:      "Total chain executions, segmented by outcome (opened/failed).",
			}, []string{"outcome"}),
			chainUnwinds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "predcore",
				Subsystem: "chain",
				Name:      "unwinds_total",
				Help:      "Total chain step unwinds, segmented by step kind.",
			}, []string{"step_kind"}),
			coverageRatio: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "predcore",
				Subsystem: "vault",
				Name:      "coverage_ratio",
				Help:      "Current vault coverage ratio (balance / (tau * open interest)).",
			}),
		}
		prometheus.MustRegister(
			registry.tradesExecuted,
			registry.feeBps,
			registry.ammIterations,
			registry.liquidations,
			registry.cascadeHalts,
			registry.chainOpens,
			registry.chainUnwinds,
			registry.coverageRatio,
		)
	})
	return registry
}

// RecordTrade increments the trade counter for a market/direction pair.
func (m *Engine) RecordTrade(market, direction string) {
	if m == nil {
		return
	}
	m.tradesExecuted.WithLabelValues(market, direction).Inc()
}

// RecordFeeBps observes the effective fee rate charged on a trade, in bps.
func (m *Engine) RecordFeeBps(market string, bps float64) {
	if m == nil {
		return
	}
	m.feeBps.WithLabelValues(market).Observe(bps)
}

// RecordConvergence observes how many iterations the L2 AMM's solver took.
func (m *Engine) RecordConvergence(market string, iterations int) {
	if m == nil {
		return
	}
	m.ammIterations.WithLabelValues(market).Observe(float64(iterations))
}

// RecordLiquidation increments the seizure counter for a ladder band
// ("80_90", "90_95", "95_100", or "extreme").
func (m *Engine) RecordLiquidation(market, band string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(market, band).Inc()
}

// RecordCascadeHalt increments the cascade-halt counter for a market.
func (m *Engine) RecordCascadeHalt(market string) {
	if m == nil {
		return
	}
	m.cascadeHalts.WithLabelValues(market).Inc()
}

// RecordChainOpen increments the chain-open counter for an outcome
// ("opened" or "failed").
func (m *Engine) RecordChainOpen(outcome string) {
	if m == nil {
		return
	}
	m.chainOpens.WithLabelValues(outcome).Inc()
}

// RecordChainUnwind increments the chain-unwind counter for a step kind.
func (m *Engine) RecordChainUnwind(stepKind string) {
	if m == nil {
		return
	}
	m.chainUnwinds.WithLabelValues(stepKind).Inc()
}

// SetCoverageRatio updates the vault coverage ratio gauge.
func (m *Engine) SetCoverageRatio(ratio float64) {
	if m == nil {
		return
	}
	m.coverageRatio.Set(ratio)
}
