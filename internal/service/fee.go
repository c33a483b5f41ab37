package service

import "github.com/shopspring/decimal"

// FeePolicy computes the platform service fee charged on top of an order subtotal
type FeePolicy interface {
	ServiceFee(subtotal decimal.Decimal) decimal.Decimal
}

// PercentageFee charges Percent of the subtotal plus a Flat amount, rounded to cents
type PercentageFee struct {
	Percent decimal.Decimal
	Flat    decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

func (f PercentageFee) ServiceFee(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(f.Percent).Div(hundred).Add(f.Flat).Round(2)
}

// FeeFunc adapts a plain function to FeePolicy
type FeeFunc func(subtotal decimal.Decimal) decimal.Decimal

func (f FeeFunc) ServiceFee(subtotal decimal.Decimal) decimal.Decimal {
	return f(subtotal)
}
