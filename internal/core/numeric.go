package core

import "github.com/shopspring/decimal"

// Quantities are stored as NUMERIC(14,3) and money as NUMERIC(14,2).
// Values are checked against those columns up front so Postgres never
// rounds or overflows a number the ledger has already used.
const (
	quantityScale = 3
	moneyScale    = 2
)

var (
	maxQuantity = decimal.New(1, 14-quantityScale)
	maxMoney    = decimal.New(1, 14-moneyScale)
)

func fitsColumn(d decimal.Decimal, scale int32, bound decimal.Decimal) bool {
	return d.Equal(d.Round(scale)) && d.Abs().LessThan(bound)
}

func checkQuantity(d decimal.Decimal, what string) error {
	if !fitsColumn(d, quantityScale, maxQuantity) {
		return invalid(ErrInvalidQuantity, "%s %s must have at most %d decimal places and be below %s",
			what, d.String(), quantityScale, maxQuantity.String())
	}
	return nil
}

func checkMoney(d decimal.Decimal, what string) error {
	if !fitsColumn(d, moneyScale, maxMoney) {
		return invalid(ErrInvalidAmount, "%s %s must have at most %d decimal places and be below %s",
			what, d.String(), moneyScale, maxMoney.String())
	}
	return nil
}
