package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category represents the product family a line belongs to.
type Category string

const (
	CategoryFresh  Category = "fresh"
	CategoryBakery Category = "bakery"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryFresh || c == CategoryBakery
}

// ProductLine is a single product entry on a trip.
type ProductLine struct {
	ProductID   string
	ProductName string
	Category    Category
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// Value returns quantity × unit price.
func (l ProductLine) Value() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// CategoryTotals holds the per-category figures derived for a trip.
type CategoryTotals struct {
	Total       decimal.Decimal // sold + accepted
	Accepted    decimal.Decimal
	Transferred decimal.Decimal
	NetTotal    decimal.Decimal
	GrandTotal  decimal.Decimal
}

// TripTotals is the output of the product totals calculation.
type TripTotals struct {
	Fresh      CategoryTotals
	Bakery     CategoryTotals
	Total      decimal.Decimal
	NetTotal   decimal.Decimal
	GrandTotal decimal.Decimal
}

// DailyTrip is one driver's record for a single calendar day.
type DailyTrip struct {
	ID         string
	DriverID   string
	DriverName string
	Date       time.Time // UTC midnight

	SoldLines         []ProductLine
	AcceptedLines     []AcceptedLine
	OutgoingTransfers []TransferLine

	// Raw financial inputs.
	CollectionAmount decimal.Decimal
	PurchaseAmount   decimal.Decimal // always recomputed from grand totals
	ExpiryAmount     decimal.Decimal
	DiscountAmount   decimal.Decimal
	PetrolAmount     decimal.Decimal

	// Derived outputs.
	Totals          TripTotals
	ExpiryAfterTax  decimal.Decimal
	AmountToBe      decimal.Decimal
	SalesDifference decimal.Decimal
	Profit          decimal.Decimal
	PreviousBalance decimal.Decimal
	Balance         decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
	CreatedBy string
	UpdatedBy string
}

// Clone returns a deep copy of the trip so callers can mutate line slices freely.
func (t *DailyTrip) Clone() *DailyTrip {
	if t == nil {
		return nil
	}
	c := *t
	c.SoldLines = append([]ProductLine(nil), t.SoldLines...)
	c.AcceptedLines = append([]AcceptedLine(nil), t.AcceptedLines...)
	c.OutgoingTransfers = append([]TransferLine(nil), t.OutgoingTransfers...)
	return &c
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateLayout is the wire format for trip dates.
const DateLayout = "2006-01-02"

// ParseDay parses a YYYY-MM-DD date into a UTC day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
