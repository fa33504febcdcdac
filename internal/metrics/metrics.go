// Package metrics exposes the Prometheus collectors of the trip ledger.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Transfer line outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomePending   = "pending"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeRetracted = "retracted"
	OutcomeRequeued  = "requeued"
	OutcomeConsumed  = "consumed"
)

// Ledger groups the domain collectors. A nil *Ledger records nothing.
type Ledger struct {
	TripSaves       *prometheus.CounterVec
	TransferLines   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg, reusing collectors
// that are already registered under the same name.
func New(namespace string, reg prometheus.Registerer) *Ledger {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Ledger{
		TripSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trip_saves_total",
			Help:      "Count of trip lifecycle operations by outcome.",
		}, []string{"op", "result"}),
		TransferLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_lines_total",
			Help:      "Count of transfer lines processed by the reconciliation coordinator.",
		}, []string{"outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	mustRegister(reg, m.TripSaves, func(c prometheus.Collector) {
		if v, ok := c.(*prometheus.CounterVec); ok {
			m.TripSaves = v
		}
	})
	mustRegister(reg, m.TransferLines, func(c prometheus.Collector) {
		if v, ok := c.(*prometheus.CounterVec); ok {
			m.TransferLines = v
		}
	})
	mustRegister(reg, m.RequestDuration, func(c prometheus.Collector) {
		if v, ok := c.(*prometheus.HistogramVec); ok {
			m.RequestDuration = v
		}
	})

	return m
}

func mustRegister(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			reuse(are.ExistingCollector)
			return
		}
		panic(fmt.Errorf("register ledger metric: %w", err))
	}
}

// TripSaved records the outcome of a trip operation.
func (m *Ledger) TripSaved(op, result string) {
	if m == nil {
		return
	}
	m.TripSaves.WithLabelValues(op, result).Inc()
}

// TransferLinesProcessed adds n lines to the given outcome.
func (m *Ledger) TransferLinesProcessed(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TransferLines.WithLabelValues(outcome).Add(float64(n))
}
