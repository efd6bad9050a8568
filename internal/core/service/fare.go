package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/autopeer-io/velopark/internal/core/model"
)

// DiscountedPeriod is the opening block of a ride, billed at half rate.
const DiscountedPeriod = 30 * time.Minute

var (
	discountFactor = decimal.NewFromFloat(0.5)
	periodMinutes  = decimal.NewFromInt(int64(DiscountedPeriod / time.Minute))
)

// DiscountedHalfHour is the price of the opening block: rate × 30 × 0.5.
func DiscountedHalfHour(t model.Tariff) decimal.Decimal {
	return t.RatePerMinute.Mul(periodMinutes).Mul(discountFactor)
}

// MinimumCredit is the credit a user needs to start a ride.
func MinimumCredit(t model.Tariff) decimal.Decimal {
	return t.FlatFare.Add(DiscountedHalfHour(t))
}

// Fare prices a ride of duration d. Past the discounted block every minute
// is billed at the full rate. The result is rounded to cents.
func Fare(d time.Duration, t model.Tariff) decimal.Decimal {
	cost := MinimumCredit(t)
	if d > DiscountedPeriod {
		extra := decimal.NewFromFloat((d - DiscountedPeriod).Minutes())
		cost = cost.Add(extra.Mul(t.RatePerMinute))
	}
	return cost.Round(2)
}

// EcoPoints awards one point per minute plus ten per full half hour.
func EcoPoints(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	minutes := int(d / time.Minute)
	return minutes + 10*(minutes/30)
}
