package services

import (
	"math"

	"github.com/spf13/viper"
)

// ConversionPolicy fixes the two exchange rates of the marketplace. They are
// deliberately separate knobs: the wallet conversion rate (points credited
// per rupee converted) and the points-pricing multiplier (points charged per
// rupee of a module's price). Both are configuration, never inlined.
type ConversionPolicy struct {
	RatePointsPerRupee int64
	PointsPerUnit      int64
}

func NewConversionPolicy() *ConversionPolicy {
	viper.SetDefault("pricing.rate_points_per_rupee", 1)
	viper.SetDefault("pricing.points_per_unit", 100)

	return &ConversionPolicy{
		RatePointsPerRupee: viper.GetInt64("pricing.rate_points_per_rupee"),
		PointsPerUnit:      viper.GetInt64("pricing.points_per_unit"),
	}
}

// ToPoints converts an amount of currency to reward points, truncating
// fractional input toward zero. Pure; the ledger mutation is the caller's
// job.
func (p *ConversionPolicy) ToPoints(amount float64) (int64, error) {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, ErrInvalidAmount
	}
	return int64(math.Trunc(amount)) * p.RatePointsPerRupee, nil
}

// PointsPrice is the points charge for a module priced in whole rupees.
func (p *ConversionPolicy) PointsPrice(price int64) int64 {
	return price * p.PointsPerUnit
}
