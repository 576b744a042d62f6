package models

import "time"

type LiquidationRisk string

const (
	RiskVeryLow  LiquidationRisk = "very_low"
	RiskLow      LiquidationRisk = "low"
	RiskModerate LiquidationRisk = "moderate"
	RiskHigh     LiquidationRisk = "high"
	RiskCritical LiquidationRisk = "critical"
)

// HealthMetrics are derived from an AccountState and never stored on their own.
type HealthMetrics struct {
	HealthScore       int             `json:"healthScore"`
	LiquidationRisk   LiquidationRisk `json:"liquidationRisk"`
	CapitalEfficiency float64         `json:"capitalEfficiency"`
}

// HealthSnapshot is what the health update job writes to the cache.
type HealthSnapshot struct {
	Account   AccountState          `json:"account"`
	Positions []UserReservePosition `json:"positions,omitempty"`
	Metrics   HealthMetrics         `json:"metrics"`
	UpdatedAt time.Time             `json:"updatedAt"`
}
