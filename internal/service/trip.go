package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tripledger/internal/domain"
	"tripledger/internal/ledger"
	"tripledger/internal/metrics"
	"tripledger/internal/redis"
	"tripledger/internal/repository"
)

// Trip operation labels used for metrics and logs.
const (
	opCreate    = "create"
	opUpdate    = "update"
	opDelete    = "delete"
	opReconcile = "reconcile"
)

// TripService handles the daily trip lifecycle.
type TripService struct {
	store         repository.Store
	locker        redis.TripLocker
	settings      *SettingsService
	balances      *BalanceResolver
	coordinator   *Coordinator
	driverCache   redis.DriverCacheInterface
	notifications *NotificationService
	metrics       *metrics.Ledger
	logger        zerolog.Logger
	validate      *validator.Validate
	now           func() time.Time
}

// NewTripService creates a new TripService. driverCache may be nil.
func NewTripService(
	store repository.Store,
	locker redis.TripLocker,
	settings *SettingsService,
	balances *BalanceResolver,
	coordinator *Coordinator,
	driverCache redis.DriverCacheInterface,
	notifications *NotificationService,
	m *metrics.Ledger,
	logger zerolog.Logger,
) *TripService {
	return &TripService{
		store:         store,
		locker:        locker,
		settings:      settings,
		balances:      balances,
		coordinator:   coordinator,
		driverCache:   driverCache,
		notifications: notifications,
		metrics:       m,
		logger:        logger.With().Str("component", "trips").Logger(),
		validate:      newValidator(),
		now:           time.Now,
	}
}

// LineInput is a sold product line as submitted.
type LineInput struct {
	ProductID string          `validate:"required"`
	Quantity  decimal.Decimal `validate:"gte=0"`
	UnitPrice decimal.Decimal `validate:"gte=0"`
}

// TransferInput is an outgoing transfer line as submitted.
type TransferInput struct {
	ProductID         string          `validate:"required"`
	Quantity          decimal.Decimal `validate:"gte=0"`
	UnitPrice         decimal.Decimal `validate:"gte=0"`
	ReceivingDriverID string          `validate:"required"`
}

// CreateTripRequest contains the parameters for recording a trip.
type CreateTripRequest struct {
	DriverID          string          `validate:"required"`
	Date              string          `validate:"required"`
	SoldLines         []LineInput     `validate:"dive"`
	OutgoingTransfers []TransferInput `validate:"dive"`
	CollectionAmount  decimal.Decimal `validate:"gte=0"`
	ExpiryAmount      decimal.Decimal `validate:"gte=0"`
	DiscountAmount    decimal.Decimal `validate:"gte=0"`
	PetrolAmount      decimal.Decimal `validate:"gte=0"`
	Actor             string
}

// UpdateTripRequest contains the fields of a trip to change. Nil fields are
// left as they are. The driver and date of a trip cannot change.
type UpdateTripRequest struct {
	SoldLines         *[]LineInput     `validate:"omitempty,dive"`
	OutgoingTransfers *[]TransferInput `validate:"omitempty,dive"`
	CollectionAmount  *decimal.Decimal `validate:"omitempty,gte=0"`
	ExpiryAmount      *decimal.Decimal `validate:"omitempty,gte=0"`
	DiscountAmount    *decimal.Decimal `validate:"omitempty,gte=0"`
	PetrolAmount      *decimal.Decimal `validate:"omitempty,gte=0"`
	Actor             string
}

// TripResult is the outcome of a trip write.
type TripResult struct {
	Trip     *domain.DailyTrip
	Delivery DeliveryReport
}

// CreateTrip records a driver's trip for a day. The trip, the consumption of
// transfers waiting for it and the driver's running balance are written in one
// transaction; outgoing transfers are delivered afterwards.
//
// When the trip is saved but some transfer lines were rejected or not
// delivered, both the result and a *TransferDeliveryError are returned.
func (s *TripService) CreateTrip(ctx context.Context, req CreateTripRequest) (*TripResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationFailure(err)
	}

	date, err := domain.ParseDay(req.Date)
	if err != nil {
		return nil, invalid(ErrInvalidDate, "date", err.Error())
	}

	rates, err := s.settings.Rates(ctx)
	if err != nil {
		return nil, err
	}

	driver, err := s.lookupDriver(ctx, req.DriverID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	trip := &domain.DailyTrip{
		ID:               uuid.New().String(),
		DriverID:         driver.ID,
		DriverName:       driver.Name,
		Date:             date,
		CollectionAmount: req.CollectionAmount,
		ExpiryAmount:     req.ExpiryAmount,
		DiscountAmount:   req.DiscountAmount,
		PetrolAmount:     req.PetrolAmount,
		CreatedAt:        now,
		UpdatedAt:        now,
		CreatedBy:        req.Actor,
		UpdatedBy:        req.Actor,
	}

	var rejected []LineError
	trip.SoldLines, trip.OutgoingTransfers, rejected, err = s.resolveLines(ctx, trip, req.SoldLines, req.OutgoingTransfers)
	if err != nil {
		return nil, err
	}

	consumed := 0
	err = s.locker.WithTripLock(ctx, trip.DriverID, date, func(ctx context.Context) error {
		return s.store.RunInTx(ctx, func(tx repository.Tx) error {
			existing, err := tx.Trips().FindByDriverAndDate(ctx, trip.DriverID, date)
			if err != nil {
				return err
			}
			if existing != nil {
				return ErrDuplicateTrip
			}

			if consumed, err = s.coordinator.ConsumePending(ctx, tx, trip); err != nil {
				return err
			}

			prev, err := s.balances.Resolve(ctx, tx, trip.DriverID, date, nil)
			if err != nil {
				return err
			}
			ledger.Evaluate(trip, rates, prev)

			if err := tx.Trips().Create(ctx, trip); err != nil {
				if errors.Is(err, repository.ErrConflict) {
					return ErrDuplicateTrip
				}
				return err
			}
			return s.balances.Sync(ctx, tx, trip.DriverID)
		})
	})
	if err != nil {
		s.metrics.TripSaved(opCreate, "error")
		if errors.Is(err, ErrDuplicateTrip) {
			return nil, invalid(ErrDuplicateTrip, "date", req.Date)
		}
		return nil, &PersistenceError{Op: "create trip", Err: err}
	}

	s.metrics.TransferLinesProcessed(metrics.OutcomeConsumed, consumed)
	s.logger.Info().
		Str("trip_id", trip.ID).
		Str("driver_id", trip.DriverID).
		Str("date", req.Date).
		Int("consumed_pending", consumed).
		Str("balance", trip.Balance.String()).
		Msg("trip created")
	s.notifications.NotifyTripSaved(ctx, trip, true)

	return s.finish(ctx, opCreate, trip, rejected, DeliveryReport{}, trip.OutgoingTransfers, rates)
}

// UpdateTrip applies req to an existing trip and recomputes it. Later trips of
// the same driver are not recomputed. Outgoing lines removed by the update are
// retracted from their receivers; the remaining lines are delivered again.
func (s *TripService) UpdateTrip(ctx context.Context, tripID string, req UpdateTripRequest) (*TripResult, error) {
	if tripID == "" {
		return nil, invalid(ErrInvalidTripID, "id", "required")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, validationFailure(err)
	}

	rates, err := s.settings.Rates(ctx)
	if err != nil {
		return nil, err
	}

	current, err := s.store.Trips().GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}

	var (
		sold     []domain.ProductLine
		outgoing []domain.TransferLine
		rejected []LineError
	)
	if req.SoldLines != nil || req.OutgoingTransfers != nil {
		var soldIn []LineInput
		var outIn []TransferInput
		if req.SoldLines != nil {
			soldIn = *req.SoldLines
		}
		if req.OutgoingTransfers != nil {
			outIn = *req.OutgoingTransfers
		}
		sold, outgoing, rejected, err = s.resolveLines(ctx, current, soldIn, outIn)
		if err != nil {
			return nil, err
		}
	}

	var before, updated *domain.DailyTrip
	err = s.locker.WithTripLock(ctx, current.DriverID, current.Date, func(ctx context.Context) error {
		return s.store.RunInTx(ctx, func(tx repository.Tx) error {
			t, err := tx.Trips().GetByID(ctx, tripID)
			if err != nil {
				return err
			}
			before = t.Clone()

			if req.SoldLines != nil {
				t.SoldLines = sold
			}
			if req.OutgoingTransfers != nil {
				t.OutgoingTransfers = outgoing
			}
			if req.CollectionAmount != nil {
				t.CollectionAmount = *req.CollectionAmount
			}
			if req.ExpiryAmount != nil {
				t.ExpiryAmount = *req.ExpiryAmount
			}
			if req.DiscountAmount != nil {
				t.DiscountAmount = *req.DiscountAmount
			}
			if req.PetrolAmount != nil {
				t.PetrolAmount = *req.PetrolAmount
			}

			prev, err := s.balances.Resolve(ctx, tx, t.DriverID, t.Date, t)
			if err != nil {
				return err
			}
			ledger.Evaluate(t, rates, prev)
			t.UpdatedAt = s.now().UTC()
			t.UpdatedBy = req.Actor

			if err := tx.Trips().Update(ctx, t); err != nil {
				return err
			}
			updated = t
			return s.balances.Sync(ctx, tx, t.DriverID)
		})
	})
	if err != nil {
		s.metrics.TripSaved(opUpdate, "error")
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "update trip", Err: err}
	}

	s.logger.Info().
		Str("trip_id", updated.ID).
		Str("driver_id", updated.DriverID).
		Str("balance", updated.Balance.String()).
		Msg("trip updated")
	s.notifications.NotifyTripSaved(ctx, updated, false)

	var retracted DeliveryReport
	var deliver []domain.TransferLine
	if req.OutgoingTransfers != nil {
		retracted = s.coordinator.Retract(ctx, updated, removedTransfers(before.OutgoingTransfers, updated.OutgoingTransfers), rates)
		deliver = updated.OutgoingTransfers
	}

	return s.finish(ctx, opUpdate, updated, rejected, retracted, deliver, rates)
}

// DeleteTrip removes a trip. Lines the trip had accepted go back to a pending
// transfer for the same driver and day, and lines it sent are retracted from
// their receivers. Later trips of the driver keep their balances.
func (s *TripService) DeleteTrip(ctx context.Context, tripID string) error {
	if tripID == "" {
		return invalid(ErrInvalidTripID, "id", "required")
	}

	rates, err := s.settings.Rates(ctx)
	if err != nil {
		return err
	}

	current, err := s.store.Trips().GetByID(ctx, tripID)
	if err != nil {
		return err
	}

	var deleted *domain.DailyTrip
	requeued := 0
	err = s.locker.WithTripLock(ctx, current.DriverID, current.Date, func(ctx context.Context) error {
		return s.store.RunInTx(ctx, func(tx repository.Tx) error {
			t, err := tx.Trips().GetByID(ctx, tripID)
			if err != nil {
				return err
			}
			if err := tx.Trips().Delete(ctx, tripID); err != nil {
				return err
			}
			if requeued, err = s.coordinator.Requeue(ctx, tx, t); err != nil {
				return err
			}
			deleted = t
			return s.balances.Sync(ctx, tx, t.DriverID)
		})
	})
	if err != nil {
		s.metrics.TripSaved(opDelete, "error")
		if errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return &PersistenceError{Op: "delete trip", Err: err}
	}

	s.metrics.TransferLinesProcessed(metrics.OutcomeRequeued, requeued)
	s.logger.Info().
		Str("trip_id", deleted.ID).
		Str("driver_id", deleted.DriverID).
		Int("requeued_lines", requeued).
		Msg("trip deleted")
	s.notifications.NotifyTripDeleted(ctx, deleted, requeued)

	report := s.coordinator.Retract(ctx, deleted, deleted.OutgoingTransfers, rates)
	s.invalidateDrivers(ctx, deleted.DriverID, report.Receivers)

	if len(report.Failures) > 0 {
		s.metrics.TripSaved(opDelete, "partial")
		return &TransferDeliveryError{TripID: deleted.ID, Failures: report.Failures}
	}
	s.metrics.TripSaved(opDelete, "ok")
	return nil
}

// Reconcile delivers the trip's outgoing transfers again. Lines receivers
// already hold are skipped, so it is safe to call after a partial failure.
func (s *TripService) Reconcile(ctx context.Context, tripID string) (*TripResult, error) {
	if tripID == "" {
		return nil, invalid(ErrInvalidTripID, "id", "required")
	}

	rates, err := s.settings.Rates(ctx)
	if err != nil {
		return nil, err
	}

	trip, err := s.store.Trips().GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}

	return s.finish(ctx, opReconcile, trip, nil, DeliveryReport{}, trip.OutgoingTransfers, rates)
}

// GetTrip retrieves a trip by ID.
func (s *TripService) GetTrip(ctx context.Context, tripID string) (*domain.DailyTrip, error) {
	if tripID == "" {
		return nil, invalid(ErrInvalidTripID, "id", "required")
	}
	return s.store.Trips().GetByID(ctx, tripID)
}

// ListTripsByDriver retrieves a driver's trips, newest first.
func (s *TripService) ListTripsByDriver(ctx context.Context, driverID string) ([]*domain.DailyTrip, error) {
	if driverID == "" {
		return nil, invalid(ErrInvalidDriverID, "driver_id", "required")
	}
	return s.store.Trips().ListByDriver(ctx, driverID)
}

// ListTripsByDate retrieves every trip recorded for a YYYY-MM-DD day.
func (s *TripService) ListTripsByDate(ctx context.Context, date string) ([]*domain.DailyTrip, error) {
	day, err := domain.ParseDay(date)
	if err != nil {
		return nil, invalid(ErrInvalidDate, "date", err.Error())
	}
	return s.store.Trips().ListByDate(ctx, day)
}

// ListPending retrieves the transfers still waiting for a receiver's trip on a day.
func (s *TripService) ListPending(ctx context.Context, date string) ([]*domain.PendingTransfer, error) {
	day, err := domain.ParseDay(date)
	if err != nil {
		return nil, invalid(ErrInvalidDate, "date", err.Error())
	}
	return s.store.PendingTransfers().ListByDate(ctx, day)
}

// finish delivers outgoing lines after the trip itself is committed and folds
// rejected and undelivered lines into a TransferDeliveryError.
func (s *TripService) finish(
	ctx context.Context,
	op string,
	trip *domain.DailyTrip,
	rejected []LineError,
	prior DeliveryReport,
	lines []domain.TransferLine,
	rates ledger.Rates,
) (*TripResult, error) {
	report := prior
	if len(lines) > 0 {
		delivered := s.coordinator.Deliver(ctx, trip, lines, rates)
		report.Delivered = delivered.Delivered
		report.Pending = delivered.Pending
		report.Duplicate = delivered.Duplicate
		report.Failures = append(report.Failures, delivered.Failures...)
		report.Receivers = appendUnique(report.Receivers, delivered.Receivers...)
	}
	report.Failures = append(rejected, report.Failures...)

	s.metrics.TransferLinesProcessed(metrics.OutcomeRejected, len(rejected))
	s.invalidateDrivers(ctx, trip.DriverID, report.Receivers)
	s.notifications.NotifyTransfers(ctx, trip, report)

	result := &TripResult{Trip: trip, Delivery: report}
	if len(report.Failures) > 0 {
		s.metrics.TripSaved(op, "partial")
		s.logger.Warn().
			Str("trip_id", trip.ID).
			Int("failed_lines", len(report.Failures)).
			Msg("trip saved with undelivered transfers")
		return result, &TransferDeliveryError{TripID: trip.ID, Failures: report.Failures}
	}
	s.metrics.TripSaved(op, "ok")
	return result, nil
}

func (s *TripService) lookupDriver(ctx context.Context, driverID string) (*domain.Driver, error) {
	driver, err := s.store.Drivers().GetByID(ctx, driverID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &ReferenceError{Kind: "driver", ID: driverID, Err: ErrUnknownDriver}
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load driver", Err: err}
	}
	return driver, nil
}

// resolveLines looks up products and receivers for the submitted lines. An
// unknown product on a sold line aborts the save; problems with a transfer
// line only drop that line and are reported as LineErrors.
func (s *TripService) resolveLines(
	ctx context.Context,
	trip *domain.DailyTrip,
	sold []LineInput,
	outgoing []TransferInput,
) ([]domain.ProductLine, []domain.TransferLine, []LineError, error) {
	ids := make([]string, 0, len(sold)+len(outgoing))
	for _, l := range sold {
		ids = append(ids, l.ProductID)
	}
	for _, l := range outgoing {
		ids = append(ids, l.ProductID)
	}

	products, err := s.store.Products().GetByIDs(ctx, ids)
	if err != nil {
		return nil, nil, nil, &PersistenceError{Op: "load products", Err: err}
	}

	soldLines := make([]domain.ProductLine, 0, len(sold))
	for _, l := range sold {
		p, ok := products[l.ProductID]
		if !ok {
			return nil, nil, nil, &ReferenceError{Kind: "product", ID: l.ProductID, Err: ErrUnknownProduct}
		}
		soldLines = append(soldLines, productLine(p, l.Quantity, l.UnitPrice))
	}

	receivers := make(map[string]*domain.Driver)
	seen := make(map[transferIdentity]struct{}, len(outgoing))
	var (
		lines    []domain.TransferLine
		rejected []LineError
	)
	for i, l := range outgoing {
		reject := func(err error) {
			rejected = append(rejected, LineError{Index: i, ProductID: l.ProductID, ReceivingDriverID: l.ReceivingDriverID, Err: err})
		}

		if l.ReceivingDriverID == trip.DriverID {
			reject(ErrSelfTransfer)
			continue
		}
		p, ok := products[l.ProductID]
		if !ok {
			reject(&ReferenceError{Kind: "product", ID: l.ProductID, Err: ErrUnknownProduct})
			continue
		}
		receiver, ok := receivers[l.ReceivingDriverID]
		if !ok {
			receiver, err = s.store.Drivers().GetByID(ctx, l.ReceivingDriverID)
			if errors.Is(err, repository.ErrNotFound) {
				reject(&ReferenceError{Kind: "driver", ID: l.ReceivingDriverID, Err: ErrUnknownDriver})
				continue
			}
			if err != nil {
				return nil, nil, nil, &PersistenceError{Op: "load receiving driver", Err: err}
			}
			receivers[l.ReceivingDriverID] = receiver
		}

		line := domain.TransferLine{
			ProductLine:         productLine(p, l.Quantity, l.UnitPrice),
			SourceTripID:        trip.ID,
			SendingDriverID:     trip.DriverID,
			SendingDriverName:   trip.DriverName,
			ReceivingDriverID:   receiver.ID,
			ReceivingDriverName: receiver.Name,
		}
		id := identityOf(line)
		if _, dup := seen[id]; dup {
			reject(ErrDuplicateTransferLine)
			continue
		}
		seen[id] = struct{}{}
		lines = append(lines, line)
	}

	return soldLines, lines, rejected, nil
}

func productLine(p *domain.Product, qty, price decimal.Decimal) domain.ProductLine {
	return domain.ProductLine{
		ProductID:   p.ID,
		ProductName: p.Name,
		Category:    p.Category,
		Quantity:    qty,
		UnitPrice:   price,
	}
}

// transferIdentity tells outgoing lines of one trip apart: the dedup key plus
// the receiver it is addressed to.
type transferIdentity struct {
	key      domain.DedupKey
	receiver string
}

func identityOf(l domain.TransferLine) transferIdentity {
	return transferIdentity{key: l.DedupKey(), receiver: l.ReceivingDriverID}
}

// removedTransfers returns the lines of before that are not in after.
func removedTransfers(before, after []domain.TransferLine) []domain.TransferLine {
	keep := make(map[transferIdentity]struct{}, len(after))
	for _, l := range after {
		keep[identityOf(l)] = struct{}{}
	}
	var removed []domain.TransferLine
	for _, l := range before {
		if _, ok := keep[identityOf(l)]; !ok {
			removed = append(removed, l)
		}
	}
	return removed
}

func (s *TripService) invalidateDrivers(ctx context.Context, driverID string, others []string) {
	if s.driverCache == nil {
		return
	}
	ids := appendUnique([]string{driverID}, others...)
	if err := s.driverCache.InvalidateDrivers(ctx, ids...); err != nil {
		s.logger.Warn().Err(err).Strs("driver_ids", ids).Msg("failed to invalidate driver cache")
	}
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, d := range dst {
			if d == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}
