package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the credit engine counters. All methods are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	bookings      *prometheus.CounterVec
	cancellations *prometheus.CounterVec
	ledgerEntries *prometheus.CounterVec
	ledgerCredits *prometheus.CounterVec
	retries       *prometheus.CounterVec
	rollovers     *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		bookings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitpass",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome.",
		}, []string{"outcome"}),
		cancellations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitpass",
			Name:      "cancellations_total",
			Help:      "Cancellation attempts by outcome.",
		}, []string{"outcome"}),
		ledgerEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitpass",
			Name:      "ledger_entries_total",
			Help:      "Ledger entries appended by kind.",
		}, []string{"kind"}),
		ledgerCredits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitpass",
			Name:      "ledger_credits_total",
			Help:      "Absolute credits moved by kind.",
		}, []string{"kind"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitpass",
			Name:      "retries_total",
			Help:      "Transaction retries by operation.",
		}, []string{"operation"}),
		rollovers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitpass",
			Name:      "rollovers_total",
			Help:      "Accounts processed by period rollover by outcome.",
		}, []string{"outcome"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) BookingOutcome(outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CancelOutcome(outcome string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LedgerEntry(kind string, amount int64) {
	if m == nil {
		return
	}
	if amount < 0 {
		amount = -amount
	}
	m.ledgerEntries.WithLabelValues(kind).Inc()
	m.ledgerCredits.WithLabelValues(kind).Add(float64(amount))
}

func (m *Metrics) Retry(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

func (m *Metrics) RolloverOutcome(outcome string) {
	if m == nil {
		return
	}
	m.rollovers.WithLabelValues(outcome).Inc()
}
