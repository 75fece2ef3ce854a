package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type DBMetrics struct {
	QueryDuration *prometheus.HistogramVec
}

type PaymentMetrics struct {
	RegisteredTotal *prometheus.CounterVec
	AllocatedAmount *prometheus.CounterVec
}

var (
	DB = DBMetrics{
		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loan_engine_db_query_duration_seconds",
				Help:    "Histogram of database query latencies.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"query_name", "status"},
		),
	}

	Payment = PaymentMetrics{
		RegisteredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loan_engine_payments_registered_total",
				Help: "Total number of payment registrations by outcome.",
			},
			[]string{"status"},
		),
		AllocatedAmount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loan_engine_payment_allocated_amount_total",
				Help: "Monetary amount allocated per waterfall bucket.",
			},
			[]string{"bucket"},
		),
	}
)

func RecordDBQuery(queryName, status string, duration time.Duration) {
	DB.QueryDuration.WithLabelValues(queryName, status).Observe(duration.Seconds())
}

func RecordPayment(status string) {
	Payment.RegisteredTotal.WithLabelValues(status).Inc()
}

func RecordAllocation(bucket string, amount float64) {
	Payment.AllocatedAmount.WithLabelValues(bucket).Add(amount)
}
