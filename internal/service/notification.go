package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"tripledger/internal/domain"
)

// NotificationType represents the type of ledger notification.
type NotificationType string

const (
	NotificationTripCreated      NotificationType = "TRIP_CREATED"
	NotificationTripUpdated      NotificationType = "TRIP_UPDATED"
	NotificationTripDeleted      NotificationType = "TRIP_DELETED"
	NotificationTransferReceived NotificationType = "TRANSFER_RECEIVED"
	NotificationTransferPending  NotificationType = "TRANSFER_PENDING"
	NotificationTransferFailed   NotificationType = "TRANSFER_FAILED"
)

// Notification is a ledger event addressed to a driver's back-office record.
type Notification struct {
	Type        NotificationType
	RecipientID string // driver ID
	TripID      string
	Date        time.Time
	Fields      map[string]any
	CreatedAt   time.Time
}

// NotificationService publishes ledger events. Events are written to the
// structured log; there is no outbound channel.
type NotificationService struct {
	logger zerolog.Logger
	now    func() time.Time
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(logger zerolog.Logger) *NotificationService {
	return &NotificationService{
		logger: logger.With().Str("component", "notifications").Logger(),
		now:    time.Now,
	}
}

// NotifyTripSaved reports a created or updated trip with its new balance.
func (s *NotificationService) NotifyTripSaved(ctx context.Context, trip *domain.DailyTrip, created bool) {
	typ := NotificationTripUpdated
	if created {
		typ = NotificationTripCreated
	}
	s.send(ctx, Notification{
		Type:        typ,
		RecipientID: trip.DriverID,
		TripID:      trip.ID,
		Date:        trip.Date,
		Fields: map[string]any{
			"previous_balance": trip.PreviousBalance.String(),
			"balance":          trip.Balance.String(),
			"purchase_amount":  trip.PurchaseAmount.String(),
		},
	})
}

// NotifyTripDeleted reports a deleted trip and how many accepted lines went back to pending.
func (s *NotificationService) NotifyTripDeleted(ctx context.Context, trip *domain.DailyTrip, requeued int) {
	s.send(ctx, Notification{
		Type:        NotificationTripDeleted,
		RecipientID: trip.DriverID,
		TripID:      trip.ID,
		Date:        trip.Date,
		Fields:      map[string]any{"requeued_lines": requeued},
	})
}

// NotifyTransfers reports the outcome of a fan-out to the sender.
func (s *NotificationService) NotifyTransfers(ctx context.Context, sender *domain.DailyTrip, report DeliveryReport) {
	if report.Delivered > 0 {
		s.send(ctx, Notification{
			Type:        NotificationTransferReceived,
			RecipientID: sender.DriverID,
			TripID:      sender.ID,
			Date:        sender.Date,
			Fields:      map[string]any{"lines": report.Delivered, "receivers": report.Receivers},
		})
	}
	if report.Pending > 0 {
		s.send(ctx, Notification{
			Type:        NotificationTransferPending,
			RecipientID: sender.DriverID,
			TripID:      sender.ID,
			Date:        sender.Date,
			Fields:      map[string]any{"lines": report.Pending},
		})
	}
	for _, f := range report.Failures {
		s.send(ctx, Notification{
			Type:        NotificationTransferFailed,
			RecipientID: sender.DriverID,
			TripID:      sender.ID,
			Date:        sender.Date,
			Fields: map[string]any{
				"line":        f.Index,
				"product_id":  f.ProductID,
				"receiver_id": f.ReceivingDriverID,
				"error":       f.Err.Error(),
			},
		})
	}
}

func (s *NotificationService) send(_ context.Context, n Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}

	level := zerolog.InfoLevel
	if n.Type == NotificationTransferFailed {
		level = zerolog.WarnLevel
	}

	s.logger.WithLevel(level).
		Str("type", string(n.Type)).
		Str("driver_id", n.RecipientID).
		Str("trip_id", n.TripID).
		Str("date", n.Date.Format(domain.DateLayout)).
		Fields(n.Fields).
		Time("at", n.CreatedAt).
		Msg("ledger notification")
}
