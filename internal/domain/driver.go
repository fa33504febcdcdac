package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Driver represents a delivery driver as seen by the trip ledger.
type Driver struct {
	ID    string
	Name  string
	Phone string

	// OpeningBalance seeds the balance chain for the driver's first trip.
	OpeningBalance decimal.Decimal

	// RunningBalance mirrors the balance of the driver's latest trip.
	RunningBalance decimal.Decimal

	CreatedAt time.Time
}
