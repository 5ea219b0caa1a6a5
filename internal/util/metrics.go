package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service collectors, registered on one registerer
type Metrics struct {
	SalesCommittedTotal *prometheus.CounterVec
	SalesFailedTotal    *prometheus.CounterVec
	SaleUnitsTotal      *prometheus.CounterVec

	StockReservationLatency prometheus.Histogram
	StockRestockedTotal     prometheus.Counter

	StatusTransitionsTotal *prometheus.CounterVec
	NotificationsTotal     *prometheus.CounterVec

	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SalesCommittedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sales_committed_total",
			Help: "Total number of sales committed",
		}, []string{"kind"}),

		SalesFailedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sales_failed_total",
			Help: "Total number of rejected or aborted sales",
		}, []string{"kind", "reason"}),

		SaleUnitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sale_units_total",
			Help: "Total number of stock units deducted by committed sales",
		}, []string{"kind"}),

		StockReservationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stock_reservation_latency_seconds",
			Help:    "Latency from lock acquisition to stock decrement",
			Buckets: prometheus.DefBuckets,
		}),

		StockRestockedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "stock_restocked_units_total",
			Help: "Total number of stock units added by restocks",
		}),

		StatusTransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "order_status_transitions_total",
			Help: "Total number of order status changes by new status",
		}, []string{"status"}),

		NotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Total number of notification attempts",
		}, []string{"result"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
	}
}
