package metrics

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lendgine"

var wad = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// Metrics bundles the collectors shared by the pool, the engine and the daemon.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	crossings  *prometheus.CounterVec

	currentTick       prometheus.Gauge
	currentLiquidity  prometheus.Gauge
	interestNumerator prometheus.Gauge
	borrowed          prometheus.Gauge
	rewardPerIN       prometheus.Gauge
	numeratorDrift    prometheus.Gauge
	totalSupply       prometheus.Gauge
	buffer            prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, errors.New("metrics: Registerer cannot be nil")
	}
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "State-changing operations segmented by component, operation and outcome.",
		}, []string{"component", "operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution of state-changing operations.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"component", "operation"}),
		crossings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tick_crossings_total",
			Help:      "Ticks crossed by the utilization walk, by direction.",
		}, []string{"direction"}),
		currentTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "current_tick",
			Help:      "Lowest tick with available capacity; 0 when fully drained.",
		}),
		currentLiquidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "current_liquidity",
			Help:      "Utilized liquidity within the current tick, in LP units.",
		}),
		interestNumerator: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "interest_numerator",
			Help:      "Incrementally tracked interest numerator, in tick-weighted LP units.",
		}),
		borrowed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "liquidity_borrowed",
			Help:      "Total liquidity borrowed, in LP units.",
		}),
		rewardPerIN: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "reward_per_interest_numerator",
			Help:      "Cumulative reward paid per unit of interest numerator.",
		}),
		numeratorDrift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "interest_numerator_drift",
			Help:      "Tracked interest numerator minus its from-scratch recomputation.",
		}),
		totalSupply: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pair",
			Name:      "total_supply",
			Help:      "Minted pool liquidity, in LP units.",
		}),
		buffer: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pair",
			Name:      "buffer",
			Help:      "Pool liquidity minted but not assigned, in LP units.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.operations,
		m.duration,
		m.crossings,
		m.currentTick,
		m.currentLiquidity,
		m.interestNumerator,
		m.borrowed,
		m.rewardPerIN,
		m.numeratorDrift,
		m.totalSupply,
		m.buffer,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register collector: %w", err)
		}
	}
	return m, nil
}

// Observe records the outcome and latency of one operation started at start.
func (m *Metrics) Observe(component, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(component, operation, outcome).Inc()
	m.duration.WithLabelValues(component, operation).Observe(time.Since(start).Seconds())
}

// RecordTickCrossing counts one step of the utilization walk. direction is "up" or "down".
func (m *Metrics) RecordTickCrossing(direction string) {
	if m == nil {
		return
	}
	m.crossings.WithLabelValues(direction).Inc()
}

// RecordEngine publishes the engine's global scalars.
func (m *Metrics) RecordEngine(currentTick uint32, currentLiquidity, borrowed, interestNumerator, rewardPerIN *uint256.Int) {
	if m == nil {
		return
	}
	m.currentTick.Set(float64(currentTick))
	m.currentLiquidity.Set(FixedToFloat(currentLiquidity))
	m.borrowed.Set(FixedToFloat(borrowed))
	m.interestNumerator.Set(FixedToFloat(interestNumerator))
	m.rewardPerIN.Set(FixedToFloat(rewardPerIN))
}

// RecordNumeratorDrift publishes tracked minus recomputed.
func (m *Metrics) RecordNumeratorDrift(tracked, recomputed *uint256.Int) {
	if m == nil {
		return
	}
	m.numeratorDrift.Set(FixedToFloat(tracked) - FixedToFloat(recomputed))
}

// RecordPool publishes the pool's supply and buffer.
func (m *Metrics) RecordPool(totalSupply, buffer *uint256.Int) {
	if m == nil {
		return
	}
	m.totalSupply.Set(FixedToFloat(totalSupply))
	m.buffer.Set(FixedToFloat(buffer))
}

// FixedToFloat converts a 1e18 fixed-point value to a float64 for display.
func FixedToFloat(value *uint256.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(value.ToBig()), wad).Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
