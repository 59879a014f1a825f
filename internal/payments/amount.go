package payments

import "github.com/shopspring/decimal"

// RatePerUnitWeight is the shipment price per unit of weight.
var RatePerUnitWeight = decimal.RequireFromString("0.01")

func AmountForWeight(weight decimal.Decimal) decimal.Decimal {
	return weight.Mul(RatePerUnitWeight).Round(2)
}
