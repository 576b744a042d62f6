package usecase

import (
	"testing"

	"github.com/shopspring/decimal"

	"LendPulse/internal/domain/models"
)

func hf(v string) models.HealthFactor {
	return models.NewHealthFactor(decimal.RequireFromString(v))
}

func TestHealthScoreTable(t *testing.T) {
	cases := []struct {
		hf   models.HealthFactor
		want int
	}{
		{models.InfiniteHealthFactor, 100},
		{hf("2.5"), 100},
		{hf("2.0"), 100},
		{hf("1.99"), 85},
		{hf("1.5"), 85},
		{hf("1.2"), 70},
		{hf("1.0"), 50},
		{hf("0.9"), 0},
		{hf("0.8"), 0},
		{hf("0.5"), 0},
	}
	for _, tc := range cases {
		if got := HealthScore(tc.hf); got != tc.want {
			t.Fatalf("HealthScore(%s) = %d, want %d", tc.hf, got, tc.want)
		}
	}
}

func TestHealthScoreNonDecreasing(t *testing.T) {
	prev := -1
	for v := decimal.Zero; v.LessThan(decimal.NewFromInt(3)); v = v.Add(decimal.RequireFromString("0.01")) {
		got := HealthScore(models.NewHealthFactor(v))
		if got < prev {
			t.Fatalf("score dropped from %d to %d at %s", prev, got, v)
		}
		prev = got
	}
}

func TestRisk(t *testing.T) {
	cases := map[string]models.LiquidationRisk{
		"3":    models.RiskVeryLow,
		"1.7":  models.RiskLow,
		"1.3":  models.RiskModerate,
		"1.05": models.RiskHigh,
		"0.95": models.RiskCritical,
	}
	for v, want := range cases {
		if got := Risk(hf(v)); got != want {
			t.Fatalf("Risk(%s) = %s, want %s", v, got, want)
		}
	}
	if Risk(models.InfiniteHealthFactor) != models.RiskVeryLow {
		t.Fatalf("infinite health factor must be very_low risk")
	}
}

func TestComputeMetrics(t *testing.T) {
	a := &models.AccountState{
		TotalCollateral:  decimal.NewFromInt(1000),
		TotalDebt:        decimal.NewFromInt(800),
		AvailableBorrows: decimal.NewFromInt(200),
		HealthFactor:     hf("1.6"),
	}
	m := ComputeMetrics(a, nil)
	// 85 from the table, minus the high LTV penalty at 80% debt/collateral
	if m.HealthScore != 75 {
		t.Fatalf("expected 75, got %d", m.HealthScore)
	}
	if m.CapitalEfficiency != 80 {
		t.Fatalf("expected capital efficiency 80, got %v", m.CapitalEfficiency)
	}
	if m.LiquidationRisk != models.RiskLow {
		t.Fatalf("unexpected risk %s", m.LiquidationRisk)
	}

	diversified := []models.UserReservePosition{
		{Symbol: "WETH", Supplied: decimal.NewFromInt(1), UsageAsCollateralEnabled: true},
		{Symbol: "WBTC", Supplied: decimal.NewFromInt(1), UsageAsCollateralEnabled: true},
		{Symbol: "USDC", Supplied: decimal.NewFromInt(1), UsageAsCollateralEnabled: true},
	}
	a.TotalDebt = decimal.NewFromInt(100)
	a.HealthFactor = hf("1.3")
	if got := ComputeMetrics(a, diversified).HealthScore; got != 75 {
		t.Fatalf("expected 70 plus diversification bonus, got %d", got)
	}

	free := debtFreeState()
	m = ComputeMetrics(free, diversified)
	if m.HealthScore != 100 || m.CapitalEfficiency != 0 {
		t.Fatalf("debt-free account must clamp to 100 with zero efficiency, got %+v", m)
	}
}
