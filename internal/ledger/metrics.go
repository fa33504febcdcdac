package ledger

import (
	"github.com/shopspring/decimal"

	"tripledger/internal/domain"
)

// MetricsInput holds the inputs of the financial metrics calculation.
type MetricsInput struct {
	ExpiryAmount     decimal.Decimal
	PurchaseAmount   decimal.Decimal
	CollectionAmount decimal.Decimal
	DiscountAmount   decimal.Decimal
	FreshNetTotal    decimal.Decimal
	BakeryNetTotal   decimal.Decimal
	PreviousBalance  decimal.Decimal
}

// Metrics is the result of the financial metrics calculation.
type Metrics struct {
	ExpiryAfterTax  decimal.Decimal
	AmountToBe      decimal.Decimal
	SalesDifference decimal.Decimal
	Profit          decimal.Decimal
	Balance         decimal.Decimal
}

// ComputeMetrics derives expiry write-off, variance, profit and the new balance.
//
// Expiry after tax is floored (the driver bears fractional amounts); the
// balance is rounded half away from zero to a whole unit.
func ComputeMetrics(in MetricsInput, rates Rates) Metrics {
	expiryAfterTax := in.ExpiryAmount.Mul(rates.ExpiryVAT).Mul(rates.ExpiryTaxFactor).Floor()
	amountToBe := in.PurchaseAmount.Sub(expiryAfterTax)
	salesDifference := in.CollectionAmount.Sub(amountToBe)
	profit := in.FreshNetTotal.Sub(expiryAfterTax).Mul(rates.FreshProfitPct).
		Add(in.BakeryNetTotal.Mul(rates.BakeryProfitPct)).
		Sub(in.DiscountAmount)
	balance := in.PreviousBalance.Add(profit).Sub(salesDifference).Round(0)

	return Metrics{
		ExpiryAfterTax:  expiryAfterTax,
		AmountToBe:      amountToBe,
		SalesDifference: salesDifference,
		Profit:          profit,
		Balance:         balance,
	}
}

// Evaluate recomputes every derived field of trip in place, using previousBalance
// as the start of the balance chain. Any caller-supplied purchase amount is overwritten.
func Evaluate(trip *domain.DailyTrip, rates Rates, previousBalance decimal.Decimal) {
	totals := ComputeTotals(trip.SoldLines, trip.AcceptedLines, trip.OutgoingTransfers, rates)
	trip.Totals = totals
	trip.PurchaseAmount = totals.Fresh.GrandTotal.Add(totals.Bakery.GrandTotal)

	m := ComputeMetrics(MetricsInput{
		ExpiryAmount:     trip.ExpiryAmount,
		PurchaseAmount:   trip.PurchaseAmount,
		CollectionAmount: trip.CollectionAmount,
		DiscountAmount:   trip.DiscountAmount,
		FreshNetTotal:    totals.Fresh.NetTotal,
		BakeryNetTotal:   totals.Bakery.NetTotal,
		PreviousBalance:  previousBalance,
	}, rates)

	trip.ExpiryAfterTax = m.ExpiryAfterTax
	trip.AmountToBe = m.AmountToBe
	trip.SalesDifference = m.SalesDifference
	trip.Profit = m.Profit
	trip.PreviousBalance = previousBalance
	trip.Balance = m.Balance
}
