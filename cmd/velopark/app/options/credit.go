package options

import (
	"fmt"

	"github.com/shopspring/decimal"
)

func parseCredit(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid sim.credit %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("sim.credit %s must not be negative", s)
	}
	return d.Round(2), nil
}
