package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tripledger/internal/domain"
	"tripledger/internal/ledger"
	"tripledger/internal/metrics"
	"tripledger/internal/redis"
	"tripledger/internal/repository"
)

// Coordinator moves transfer lines between drivers' trips on the same day.
//
// Every receiver is written in its own transaction while holding that
// receiver's (driver, date) lock. Writes are idempotent through the line dedup
// key, so a partially applied fan-out can be retried safely.
type Coordinator struct {
	store    repository.Store
	locker   redis.TripLocker
	balances *BalanceResolver
	metrics  *metrics.Ledger
	logger   zerolog.Logger
	now      func() time.Time
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(
	store repository.Store,
	locker redis.TripLocker,
	balances *BalanceResolver,
	m *metrics.Ledger,
	logger zerolog.Logger,
) *Coordinator {
	return &Coordinator{
		store:    store,
		locker:   locker,
		balances: balances,
		metrics:  m,
		logger:   logger.With().Str("component", "reconcile").Logger(),
		now:      time.Now,
	}
}

// DeliveryReport summarizes one fan-out pass.
type DeliveryReport struct {
	Delivered int // lines merged into an existing receiver trip
	Pending   int // lines parked until the receiver's trip exists
	Duplicate int // lines the receiver already had
	Retracted int
	Failures  []LineError

	// Receivers lists drivers whose trips or pending records were written.
	Receivers []string
}

type indexedLine struct {
	index int
	line  domain.TransferLine
}

type receiverGroup struct {
	driverID string
	lines    []indexedLine
}

func groupByReceiver(lines []domain.TransferLine) []receiverGroup {
	var groups []receiverGroup
	pos := make(map[string]int)
	for i, l := range lines {
		g, ok := pos[l.ReceivingDriverID]
		if !ok {
			g = len(groups)
			pos[l.ReceivingDriverID] = g
			groups = append(groups, receiverGroup{driverID: l.ReceivingDriverID})
		}
		groups[g].lines = append(groups[g].lines, indexedLine{index: i, line: l})
	}
	return groups
}

func (g receiverGroup) fail(err error) []LineError {
	failures := make([]LineError, 0, len(g.lines))
	for _, il := range g.lines {
		failures = append(failures, LineError{
			Index:             il.index,
			ProductID:         il.line.ProductID,
			ReceivingDriverID: g.driverID,
			Err:               err,
		})
	}
	return failures
}

func (g receiverGroup) accepted() []domain.AcceptedLine {
	out := make([]domain.AcceptedLine, 0, len(g.lines))
	for _, il := range g.lines {
		out = append(out, il.line.Accepted())
	}
	return out
}

func (g receiverGroup) transfers() []domain.TransferLine {
	out := make([]domain.TransferLine, 0, len(g.lines))
	for _, il := range g.lines {
		out = append(out, il.line)
	}
	return out
}

func (g receiverGroup) keys() map[domain.DedupKey]struct{} {
	keys := make(map[domain.DedupKey]struct{}, len(g.lines))
	for _, il := range g.lines {
		keys[il.line.DedupKey()] = struct{}{}
	}
	return keys
}

// Deliver fans the sender's outgoing lines out to the receivers. A receiver
// with a trip on the same day gets the lines merged into its accepted lines and
// is recomputed; otherwise the lines are appended to its pending transfer.
//
// Receivers' previous balances are resolved before any write so the pass does
// not depend on the order receivers are visited in.
func (c *Coordinator) Deliver(ctx context.Context, sender *domain.DailyTrip, lines []domain.TransferLine, rates ledger.Rates) DeliveryReport {
	var report DeliveryReport
	groups := groupByReceiver(lines)
	date := domain.Day(sender.Date)

	snapshot := make(map[string]decimal.Decimal, len(groups))
	var ready []receiverGroup
	for _, g := range groups {
		rt, err := c.store.Trips().FindByDriverAndDate(ctx, g.driverID, date)
		if err == nil && rt != nil {
			var prev decimal.Decimal
			prev, err = c.balances.Resolve(ctx, c.store, g.driverID, date, rt)
			snapshot[g.driverID] = prev
		}
		if err != nil {
			report.Failures = append(report.Failures, g.fail(&PersistenceError{Op: "resolve receiver balance", Err: err})...)
			continue
		}
		ready = append(ready, g)
	}

	for _, g := range ready {
		var delivered, pending, duplicate int
		err := c.locker.WithTripLock(ctx, g.driverID, date, func(ctx context.Context) error {
			delivered, pending, duplicate = 0, 0, 0
			return c.store.RunInTx(ctx, func(tx repository.Tx) error {
				rt, err := tx.Trips().FindByDriverAndDate(ctx, g.driverID, date)
				if err != nil {
					return err
				}

				if rt == nil {
					added, err := tx.PendingTransfers().Append(ctx, date, g.driverID, g.transfers())
					if err != nil {
						return err
					}
					pending = added
					duplicate = len(g.lines) - added
					return nil
				}

				merged, added := domain.MergeAccepted(rt.AcceptedLines, g.accepted())
				duplicate = len(g.lines) - added
				if added == 0 {
					return nil
				}

				prev, ok := snapshot[g.driverID]
				if !ok {
					// The receiver's trip was created after the snapshot was taken.
					if prev, err = c.balances.Resolve(ctx, tx, g.driverID, date, rt); err != nil {
						return err
					}
				}

				rt.AcceptedLines = merged
				ledger.Evaluate(rt, rates, prev)
				rt.UpdatedAt = c.now().UTC()
				if err := tx.Trips().Update(ctx, rt); err != nil {
					return err
				}
				delivered = added
				return c.balances.Sync(ctx, tx, g.driverID)
			})
		})
		if err != nil {
			c.logger.Error().Err(err).
				Str("trip_id", sender.ID).
				Str("receiver_id", g.driverID).
				Int("lines", len(g.lines)).
				Msg("transfer delivery failed")
			report.Failures = append(report.Failures, g.fail(&PersistenceError{Op: "deliver transfer", Err: err})...)
			continue
		}

		report.Delivered += delivered
		report.Pending += pending
		report.Duplicate += duplicate
		if delivered+pending > 0 {
			report.Receivers = append(report.Receivers, g.driverID)
		}
	}

	c.metrics.TransferLinesProcessed(metrics.OutcomeDelivered, report.Delivered)
	c.metrics.TransferLinesProcessed(metrics.OutcomePending, report.Pending)
	c.metrics.TransferLinesProcessed(metrics.OutcomeDuplicate, report.Duplicate)
	c.metrics.TransferLinesProcessed(metrics.OutcomeFailed, len(report.Failures))

	return report
}

// Retract removes previously sent lines from their receivers: from the
// receiver's accepted lines (recomputing that trip) and from its pending
// transfer record. Lines that were never delivered are ignored.
func (c *Coordinator) Retract(ctx context.Context, sender *domain.DailyTrip, lines []domain.TransferLine, rates ledger.Rates) DeliveryReport {
	var report DeliveryReport
	date := domain.Day(sender.Date)

	for _, g := range groupByReceiver(lines) {
		removed := 0
		err := c.locker.WithTripLock(ctx, g.driverID, date, func(ctx context.Context) error {
			removed = 0
			return c.store.RunInTx(ctx, func(tx repository.Tx) error {
				keys := g.keys()

				rt, err := tx.Trips().FindByDriverAndDate(ctx, g.driverID, date)
				if err != nil {
					return err
				}
				if rt != nil {
					kept, n := domain.RemoveAccepted(rt.AcceptedLines, keys)
					if n > 0 {
						prev, err := c.balances.Resolve(ctx, tx, g.driverID, date, rt)
						if err != nil {
							return err
						}
						rt.AcceptedLines = kept
						ledger.Evaluate(rt, rates, prev)
						rt.UpdatedAt = c.now().UTC()
						if err := tx.Trips().Update(ctx, rt); err != nil {
							return err
						}
						if err := c.balances.Sync(ctx, tx, g.driverID); err != nil {
							return err
						}
						removed += n
					}
				}

				p, err := tx.PendingTransfers().Get(ctx, date, g.driverID)
				if err != nil || p == nil {
					return err
				}
				kept, n := domain.RemoveTransfers(p.Lines, keys)
				if n == 0 {
					return nil
				}
				removed += n
				if len(kept) == 0 {
					return tx.PendingTransfers().Delete(ctx, date, g.driverID)
				}
				p.Lines = kept
				return tx.PendingTransfers().Save(ctx, p)
			})
		})
		if err != nil {
			c.logger.Error().Err(err).
				Str("trip_id", sender.ID).
				Str("receiver_id", g.driverID).
				Msg("transfer retraction failed")
			report.Failures = append(report.Failures, g.fail(&PersistenceError{Op: "retract transfer", Err: err})...)
			continue
		}
		report.Retracted += removed
		if removed > 0 {
			report.Receivers = append(report.Receivers, g.driverID)
		}
	}

	c.metrics.TransferLinesProcessed(metrics.OutcomeRetracted, report.Retracted)
	c.metrics.TransferLinesProcessed(metrics.OutcomeFailed, len(report.Failures))
	return report
}

// ConsumePending merges the pending transfer addressed to trip's driver and day
// into the trip's accepted lines and deletes the pending record. It must run in
// the transaction that creates the trip, before the trip is evaluated.
func (c *Coordinator) ConsumePending(ctx context.Context, tx repository.Tx, trip *domain.DailyTrip) (int, error) {
	p, err := tx.PendingTransfers().Get(ctx, trip.Date, trip.DriverID)
	if err != nil || p == nil {
		return 0, err
	}

	incoming := make([]domain.AcceptedLine, 0, len(p.Lines))
	for _, l := range p.Lines {
		incoming = append(incoming, l.Accepted())
	}

	merged, added := domain.MergeAccepted(trip.AcceptedLines, incoming)
	trip.AcceptedLines = merged

	if err := tx.PendingTransfers().Delete(ctx, trip.Date, trip.DriverID); err != nil {
		return 0, err
	}
	return added, nil
}

// Requeue returns a deleted trip's accepted lines to a pending transfer for the
// same driver and day, so the value stays in flight instead of vanishing.
func (c *Coordinator) Requeue(ctx context.Context, tx repository.Tx, trip *domain.DailyTrip) (int, error) {
	if len(trip.AcceptedLines) == 0 {
		return 0, nil
	}

	lines := make([]domain.TransferLine, 0, len(trip.AcceptedLines))
	for _, l := range trip.AcceptedLines {
		lines = append(lines, domain.TransferLine{
			ProductLine:         l.ProductLine,
			SourceTripID:        l.SourceTripID,
			SendingDriverID:     l.SendingDriverID,
			SendingDriverName:   l.SendingDriverName,
			ReceivingDriverID:   trip.DriverID,
			ReceivingDriverName: trip.DriverName,
		})
	}
	return tx.PendingTransfers().Append(ctx, trip.Date, trip.DriverID, lines)
}
