// Package pricing computes invoice totals. All monetary math uses decimal
// arithmetic; binary floating point never touches an amount.
package pricing

import "github.com/shopspring/decimal"

// LineInput is one invoice line as seen by the engine. A nil UnitPrice means
// the line could not be priced; it contributes zero and is reported back.
type LineInput struct {
	Quantity  int64
	UnitPrice *decimal.Decimal
}

// Totals is the result of a pricing computation.
// TotalAmount == Subtotal + TaxAmount holds exactly.
type Totals struct {
	Subtotal      decimal.Decimal
	TaxAmount     decimal.Decimal
	TotalAmount   decimal.Decimal
	UnpricedLines []int
}

var hundred = decimal.NewFromInt(100)

// Compute sums quantity × unit price over all lines, applies the tax rate
// (percent) and rounds the tax amount half-up to 2 decimal places. Rounding
// happens once, at the tax step, never per line.
func Compute(lines []LineInput, taxRatePercent decimal.Decimal) Totals {
	subtotal := decimal.Zero
	var unpriced []int

	for i, line := range lines {
		if line.UnitPrice == nil {
			unpriced = append(unpriced, i)
			continue
		}
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(line.Quantity)))
	}

	tax := subtotal.Mul(taxRatePercent).Div(hundred).Round(2)

	return Totals{
		Subtotal:      subtotal,
		TaxAmount:     tax,
		TotalAmount:   subtotal.Add(tax),
		UnpricedLines: unpriced,
	}
}

// LineTotal returns quantity × unit price for a priced line.
func LineTotal(quantity int64, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(quantity))
}
