// Package pricing computes line and order amounts in integer minor units.
// Unit prices are tax-exclusive; tax is added on top of the discounted line.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidInput = errors.New("invalid pricing input")

type Input struct {
	UnitPrice      int64
	Discount       int64
	TaxRatePercent int
	Quantity       int
}

type Line struct {
	UnitPrice       int64
	Discount        int64
	DiscountedPrice int64
	Quantity        int
	TaxRatePercent  int
	Subtotal        int64
	TaxAmount       int64
	Total           int64
}

type Totals struct {
	Subtotal      int64
	TotalDiscount int64
	TotalTax      int64
	TotalAmount   int64
}

var hundred = decimal.NewFromInt(100)

func Validate(in Input) error {
	switch {
	case in.UnitPrice < 0:
		return fmt.Errorf("%w: unit price %d is negative", ErrInvalidInput, in.UnitPrice)
	case in.Discount < 0:
		return fmt.Errorf("%w: discount %d is negative", ErrInvalidInput, in.Discount)
	case in.Discount > in.UnitPrice:
		return fmt.Errorf("%w: discount %d exceeds unit price %d", ErrInvalidInput, in.Discount, in.UnitPrice)
	case in.Quantity < 1:
		return fmt.Errorf("%w: quantity %d is below 1", ErrInvalidInput, in.Quantity)
	case in.TaxRatePercent < 0:
		return fmt.Errorf("%w: tax rate %d is negative", ErrInvalidInput, in.TaxRatePercent)
	}
	return nil
}

// Calculate prices a single line. Tax is rounded half-up to the minor unit
// here and nowhere else.
func Calculate(in Input) (Line, error) {
	if err := Validate(in); err != nil {
		return Line{}, err
	}

	discounted := in.UnitPrice - in.Discount
	subtotal := discounted * int64(in.Quantity)
	tax := RoundHalfUp(decimal.NewFromInt(subtotal).Mul(decimal.NewFromInt(int64(in.TaxRatePercent))).Div(hundred))

	return Line{
		UnitPrice:       in.UnitPrice,
		Discount:        in.Discount,
		DiscountedPrice: discounted,
		Quantity:        in.Quantity,
		TaxRatePercent:  in.TaxRatePercent,
		Subtotal:        subtotal,
		TaxAmount:       tax,
		Total:           subtotal + tax,
	}, nil
}

// Sum aggregates priced lines without re-rounding, so
// TotalAmount == Subtotal - TotalDiscount + TotalTax == sum of line totals.
func Sum(lines []Line) Totals {
	var totals Totals
	for _, line := range lines {
		qty := int64(line.Quantity)
		totals.Subtotal += line.UnitPrice * qty
		totals.TotalDiscount += line.Discount * qty
		totals.TotalTax += line.TaxAmount
		totals.TotalAmount += line.Total
	}
	return totals
}

// RoundHalfUp rounds a non-negative amount to the nearest minor unit, ties up.
func RoundHalfUp(amount decimal.Decimal) int64 {
	// Round is half away from zero, which is half-up for non-negative values.
	return amount.Round(0).IntPart()
}

// Average divides total by count with half-up rounding; zero count yields zero.
func Average(total int64, count int) int64 {
	if count <= 0 {
		return 0
	}
	return RoundHalfUp(decimal.NewFromInt(total).Div(decimal.NewFromInt(int64(count))))
}
