package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Price lookup outcomes.
const (
	LookupCacheHit   = "cache_hit"
	LookupSourceHit  = "source_hit"
	LookupMissing    = "missing"
	LookupCacheError = "cache_error"
)

// Coupon calculation results.
const (
	CouponOK                 = "ok"
	CouponResolutionFailure  = "resolution_failure"
	CouponInsufficientBudget = "insufficient_budget"
	CouponInvalid            = "invalid"
	CouponError              = "error"
)

var (
	domainOnce sync.Once

	// PriceLookupsTotal counts per-item price lookups by outcome.
	PriceLookupsTotal *prometheus.CounterVec
	// CouponCalculationsTotal counts coupon calculations by result.
	CouponCalculationsTotal *prometheus.CounterVec
	// CouponSolveDuration records optimizer latency in milliseconds.
	CouponSolveDuration prometheus.Histogram
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PriceLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_lookups_total",
			Help:      "Count of item price lookups by outcome.",
		}, []string{"outcome"})
		CouponCalculationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_calculations_total",
			Help:      "Count of coupon calculations by result.",
		}, []string{"result"})
		CouponSolveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "coupon_solve_duration_ms",
			Help:      "Latency of the subset optimizer in milliseconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000},
		})

		mustRegisterCollector(reg, PriceLookupsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PriceLookupsTotal = v
			}
		})
		mustRegisterCollector(reg, CouponCalculationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CouponCalculationsTotal = v
			}
		})
		mustRegisterCollector(reg, CouponSolveDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				CouponSolveDuration = v
			}
		})
	})
}

// RecordPriceLookup increments the lookup counter when metrics are registered.
func RecordPriceLookup(outcome string) {
	if PriceLookupsTotal == nil {
		return
	}
	PriceLookupsTotal.WithLabelValues(outcome).Inc()
}

// RecordCouponCalculation increments the calculation counter when metrics are registered.
func RecordCouponCalculation(result string) {
	if CouponCalculationsTotal == nil {
		return
	}
	CouponCalculationsTotal.WithLabelValues(result).Inc()
}

// ObserveSolve records optimizer latency when metrics are registered.
func ObserveSolve(d time.Duration) {
	if CouponSolveDuration == nil {
		return
	}
	CouponSolveDuration.Observe(DurationMillis(d))
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}
