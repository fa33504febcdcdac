package ledger

import (
	"github.com/shopspring/decimal"

	"tripledger/internal/domain"
)

// ComputeTotals derives the per-category and overall totals of a trip.
//
// Sold and accepted lines make up the category totals; outgoing transfers are
// subtracted before the category reduction is applied. Quantities and prices
// are assumed non-negative (validated by the caller).
func ComputeTotals(sold []domain.ProductLine, accepted []domain.AcceptedLine, transferred []domain.TransferLine, rates Rates) domain.TripTotals {
	var fresh, bakery domain.CategoryTotals
	fresh.Total, bakery.Total = decimal.Zero, decimal.Zero
	fresh.Accepted, bakery.Accepted = decimal.Zero, decimal.Zero
	fresh.Transferred, bakery.Transferred = decimal.Zero, decimal.Zero

	for _, l := range sold {
		addTo(&fresh.Total, &bakery.Total, l)
	}
	for _, l := range accepted {
		addTo(&fresh.Total, &bakery.Total, l.ProductLine)
		addTo(&fresh.Accepted, &bakery.Accepted, l.ProductLine)
	}
	for _, l := range transferred {
		addTo(&fresh.Transferred, &bakery.Transferred, l.ProductLine)
	}

	one := decimal.NewFromInt(1)
	markup := one.Add(rates.GrandMarkup)

	fresh.NetTotal = fresh.Total.Sub(fresh.Transferred).Mul(one.Sub(rates.FreshReduction))
	bakery.NetTotal = bakery.Total.Sub(bakery.Transferred).Mul(one.Sub(rates.BakeryReduction))
	fresh.GrandTotal = fresh.NetTotal.Mul(markup)
	bakery.GrandTotal = bakery.NetTotal.Mul(markup)

	return domain.TripTotals{
		Fresh:      fresh,
		Bakery:     bakery,
		Total:      fresh.Total.Add(bakery.Total).Sub(fresh.Transferred).Sub(bakery.Transferred),
		NetTotal:   fresh.NetTotal.Add(bakery.NetTotal),
		GrandTotal: fresh.GrandTotal.Add(bakery.GrandTotal),
	}
}

func addTo(fresh, bakery *decimal.Decimal, l domain.ProductLine) {
	switch l.Category {
	case domain.CategoryFresh:
		*fresh = fresh.Add(l.Value())
	case domain.CategoryBakery:
		*bakery = bakery.Add(l.Value())
	}
}
