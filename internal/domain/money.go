package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount in whole units of the settlement currency (integer
// rubles). Whole rubles are the smallest unit the service settles in; kopecks
// appear only when formatting for the gateway, e.g. 475 becomes "475.00".
type Money struct {
	Amount   int64
	Currency string
}

func NewMoney(amount int64) Money {
	return Money{Amount: amount, Currency: Currency}
}

// ToDecimal returns the amount as a decimal in major units.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount)
}

// Fee returns floor(amount * rate). Rates outside [0, 1] are rejected.
func (m Money) Fee(rate decimal.Decimal) (int64, error) {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return 0, fmt.Errorf("fee rate %s out of range", rate.String())
	}
	return decimal.NewFromInt(m.Amount).Mul(rate).Floor().IntPart(), nil
}

// String returns the provider representation, e.g. "475.00 RUB".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(2), m.Currency)
}

// ParseAmount converts a provider decimal string ("475.00") back to whole units,
// rounding down any fractional part.
func ParseAmount(value string) (int64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}
	return d.Floor().IntPart(), nil
}
