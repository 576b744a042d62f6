package usecase

import (
	"github.com/shopspring/decimal"

	"LendPulse/internal/domain/models"
)

// scoreTier maps a minimum health factor to a base score.
type scoreTier struct {
	min   float64
	score int
}

var scoreTiers = []scoreTier{
	{2.0, 100},
	{1.5, 85},
	{1.2, 70},
	{1.0, 50},
	{0.8, 25},
}

const (
	liquidatablePenalty   = 25
	diversificationBonus  = 5
	diversificationAssets = 3
	highLTVPenalty        = 10
)

// highLTV is the debt/collateral ratio above which the LTV penalty applies.
var highLTV = decimal.NewFromFloat(0.75)

// HealthScore maps a health factor onto [0,100]. An account below 1.0 can
// already be liquidated and loses a further 25 points.
func HealthScore(hf models.HealthFactor) int {
	if hf.Infinite {
		return 100
	}
	score := 0
	for _, t := range scoreTiers {
		if hf.AtLeast(t.min) {
			score = t.score
			break
		}
	}
	if !hf.AtLeast(1.0) {
		score -= liquidatablePenalty
	}
	return clampScore(score)
}

// Risk classifies how close an account is to liquidation.
func Risk(hf models.HealthFactor) models.LiquidationRisk {
	switch {
	case hf.AtLeast(2.0):
		return models.RiskVeryLow
	case hf.AtLeast(1.5):
		return models.RiskLow
	case hf.AtLeast(1.2):
		return models.RiskModerate
	case hf.AtLeast(1.0):
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}

// CapitalEfficiency is the share of borrowing power in use, in percent.
func CapitalEfficiency(a *models.AccountState) float64 {
	capacity := a.TotalDebt.Add(a.AvailableBorrows)
	if !capacity.IsPositive() {
		return 0
	}
	pct, _ := a.TotalDebt.Div(capacity).Mul(decimal.NewFromInt(100)).Round(2).Float64()
	if pct > 100 {
		return 100
	}
	return pct
}

// ComputeMetrics derives the health metrics of an account. positions may be
// empty when per-reserve data could not be read.
func ComputeMetrics(a *models.AccountState, positions []models.UserReservePosition) models.HealthMetrics {
	score := HealthScore(a.HealthFactor)

	collateralAssets := 0
	for _, p := range positions {
		if p.UsageAsCollateralEnabled && p.Supplied.IsPositive() {
			collateralAssets++
		}
	}
	if collateralAssets >= diversificationAssets {
		score += diversificationBonus
	}
	if a.HasDebt() && a.TotalCollateral.IsPositive() &&
		a.TotalDebt.Div(a.TotalCollateral).GreaterThanOrEqual(highLTV) {
		score -= highLTVPenalty
	}

	return models.HealthMetrics{
		HealthScore:       clampScore(score),
		LiquidationRisk:   Risk(a.HealthFactor),
		CapitalEfficiency: CapitalEfficiency(a),
	}
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
