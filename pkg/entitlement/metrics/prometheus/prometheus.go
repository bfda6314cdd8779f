package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ultraprompt/entitlement/pkg/entitlement"
)

// Metrics implements entitlement.Metrics using Prometheus.
type Metrics struct {
	creditSpendTotal   *prometheus.CounterVec
	creditSpendAmount  *prometheus.HistogramVec
	patchFieldsTotal   *prometheus.CounterVec
	storageOpsDuration *prometheus.HistogramVec
	storageOpsErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		creditSpendTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_spend_total",
			Help:      "Total number of credit spend attempts.",
		}, []string{"tier", "success"}),

		creditSpendAmount: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "credit_spend_amount",
			Help:      "Distribution of credit spend amounts.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50},
		}, []string{"tier"}),

		patchFieldsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_patch_fields_total",
			Help:      "Total number of profile field mutations.",
		}, []string{"field"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "profile_storage_operation_duration_seconds",
			Help:      "Latency of profile store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_storage_operation_errors_total",
			Help:      "Total number of failed profile store operations.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) RecordCreditSpend(tier string, amount int, success bool) {
	if tier == "" {
		tier = "free"
	}
	m.creditSpendTotal.WithLabelValues(tier, strconv.FormatBool(success)).Inc()
	if success {
		m.creditSpendAmount.WithLabelValues(tier).Observe(float64(amount))
	}
}

func (m *Metrics) RecordPatchApplied(field string) {
	m.patchFieldsTotal.WithLabelValues(field).Inc()
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) entitlement.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
