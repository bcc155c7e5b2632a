package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns every metric the service exports. Each Collector has its
// own registry so several can live in one process.
type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	MedicinesCreated       prometheus.Counter
	StockUnits             *prometheus.CounterVec
	PrescriptionsCreated   prometheus.Counter
	PrescriptionsProcessed *prometheus.CounterVec
	PrescriptionsCancelled prometheus.Counter
	PaymentsTotal          prometheus.Counter
	PaymentAmount          prometheus.Counter

	UpstreamCalls *prometheus.CounterVec
	RateLimited   prometheus.Counter
}

func NewCollector(serviceName string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path", "status"}),

		InFlightGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		MedicinesCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "inventory",
			Name:      "medicines_created_total",
			Help:      "Total medicines registered.",
		}),

		StockUnits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "inventory",
			Name:      "stock_units_total",
			Help:      "Units of stock moved, by reason (restock, dispense, cancel).",
		}, []string{"reason"}),

		PrescriptionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "prescription",
			Name:      "created_total",
			Help:      "Total prescriptions created.",
		}),

		PrescriptionsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "prescription",
			Name:      "processed_total",
			Help:      "Processing passes by resulting status.",
		}, []string{"status"}),

		PrescriptionsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "prescription",
			Name:      "cancelled_total",
			Help:      "Total prescriptions cancelled.",
		}),

		PaymentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "payment",
			Name:      "recorded_total",
			Help:      "Total payments recorded.",
		}),

		PaymentAmount: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "payment",
			Name:      "amount_total",
			Help:      "Sum of recorded payment amounts.",
		}),

		UpstreamCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "upstream",
			Name:      "calls_total",
			Help:      "Calls to the auth and wallet services by outcome.",
		}, []string{"service", "outcome"}),

		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	c.RequestsTotal.WithLabelValues(method, path, code).Inc()
	c.RequestDuration.WithLabelValues(method, path, code).Observe(elapsed.Seconds())
}

func (c *Collector) MedicineCreated() {
	c.MedicinesCreated.Inc()
}

// StockAdjusted counts absolute units; the sign only says which way they went.
func (c *Collector) StockAdjusted(reason string, units int) {
	if units < 0 {
		units = -units
	}
	c.StockUnits.WithLabelValues(reason).Add(float64(units))
}

func (c *Collector) PrescriptionCreated() {
	c.PrescriptionsCreated.Inc()
}

func (c *Collector) PrescriptionProcessed(status string) {
	c.PrescriptionsProcessed.WithLabelValues(status).Inc()
}

func (c *Collector) PrescriptionCancelled() {
	c.PrescriptionsCancelled.Inc()
}

func (c *Collector) PaymentRecorded(amount int) {
	c.PaymentsTotal.Inc()
	c.PaymentAmount.Add(float64(amount))
}

func (c *Collector) UpstreamCall(service, outcome string) {
	c.UpstreamCalls.WithLabelValues(service, outcome).Inc()
}
