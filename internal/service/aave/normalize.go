package aave

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"LendPulse/internal/domain/models"
)

const (
	baseCurrencyDecimals = 8  // USD base unit of the v3 oracle
	percentDecimals      = 4  // basis points
	wadDecimals          = 18 // health factor
	rayDecimals          = 27 // rates
	secondsPerYear       = 31536000
)

// maxSaneHealthFactor is the raw value above which the health factor is treated
// as infinite. Debt-free accounts report type(uint256).max.
var maxSaneHealthFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(36), nil)

// scale converts a raw fixed-point integer into a decimal.
func scale(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// normalizeHealthFactor applies the infinite sentinel for zero-debt accounts and
// for raw values beyond the sanity bound.
func normalizeHealthFactor(raw *big.Int, totalDebt decimal.Decimal) models.HealthFactor {
	if raw == nil || totalDebt.LessThanOrEqual(models.NegligibleDebt) || raw.Cmp(maxSaneHealthFactor) > 0 {
		return models.InfiniteHealthFactor
	}
	return models.NewHealthFactor(scale(raw, wadDecimals))
}

// rayToAPR converts a ray-denominated yearly rate.
func rayToAPR(raw *big.Int) decimal.Decimal {
	return scale(raw, rayDecimals)
}

// aprToAPY compounds a yearly rate per second.
func aprToAPY(apr decimal.Decimal) decimal.Decimal {
	r, _ := apr.Float64()
	if r <= 0 {
		return decimal.Zero
	}
	apy := math.Pow(1+r/secondsPerYear, secondsPerYear) - 1
	return decimal.NewFromFloat(apy).Round(8)
}
