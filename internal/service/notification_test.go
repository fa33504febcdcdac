package service_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"tripledger/internal/domain"
	"tripledger/internal/service"
)

func TestNotifyTransfersLogsEachOutcome(t *testing.T) {
	var buf bytes.Buffer
	notifier := service.NewNotificationService(zerolog.New(&buf))

	sender := &domain.DailyTrip{ID: "t1", DriverID: "d1", Date: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	notifier.NotifyTransfers(context.Background(), sender, service.DeliveryReport{
		Delivered: 2,
		Receivers: []string{"d2"},
		Failures: []service.LineError{
			{Index: 1, ProductID: "milk", ReceivingDriverID: "d3", Err: errors.New("lock busy")},
		},
	})

	out := buf.String()
	assert.Contains(t, out, `"type":"TRANSFER_RECEIVED"`)
	assert.Contains(t, out, `"type":"TRANSFER_FAILED"`)
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"receiver_id":"d3"`)
	assert.NotContains(t, out, "TRANSFER_PENDING")
	assert.Contains(t, out, `"date":"2024-06-01"`)
}
