package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := New("ledger", reg)
	second := New("ledger", reg)

	first.TripSaved("create", "ok")
	second.TripSaved("create", "ok")
	second.TransferLinesProcessed(OutcomePending, 3)
	second.TransferLinesProcessed(OutcomePending, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(first.TripSaves.WithLabelValues("create", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(first.TransferLines.WithLabelValues(OutcomePending)))
}

func TestNilLedgerIsNoop(t *testing.T) {
	var m *Ledger
	assert.NotPanics(t, func() {
		m.TripSaved("delete", "error")
		m.TransferLinesProcessed(OutcomeDelivered, 1)
	})
}
