// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the reconciliation loop.
type Metrics struct {
	PassesTotal      prometheus.Counter
	PassDuration     prometheus.Histogram
	UnitsReconciled  prometheus.Counter
	ReadFailures     *prometheus.CounterVec
	AlertsEmitted    *prometheus.CounterVec
	OrdersTotal      *prometheus.CounterVec
	UnitRatioD3      *prometheus.GaugeVec
	UnitOracleAgeSec *prometheus.GaugeVec
}

// NewMetrics registers all metrics on the given registerer (defaulting to
// the global one when nil).
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "bridge_sentinel"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PassesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Reconciliation passes executed",
		}),
		PassDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of one reconciliation pass",
			Buckets:   prometheus.DefBuckets,
		}),
		UnitsReconciled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_reconciled_total",
			Help:      "Per-unit reconciliations completed",
		}),
		ReadFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_failures_total",
			Help:      "Chain read failures by unit and side",
		}, []string{"unit", "side"}),
		AlertsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_emitted_total",
			Help:      "Alerts emitted by unit and reason",
		}, []string{"unit", "reason"}),
		OrdersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebalance_orders_total",
			Help:      "Rebalance orders by unit and outcome",
		}, []string{"unit", "status"}),
		UnitRatioD3: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unit_ratio_d3",
			Help:      "Last observed source ratio in D3 fixed point",
		}, []string{"unit"}),
		UnitOracleAgeSec: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unit_oracle_age_seconds",
			Help:      "Last observed oracle update age",
		}, []string{"unit"}),
	}
}

// Serve exposes /metrics on addr and returns the server handle.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
