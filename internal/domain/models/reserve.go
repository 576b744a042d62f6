package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReserveRate holds the current rates and configuration for one reserve.
type ReserveRate struct {
	Asset                    string          `json:"asset"`
	Symbol                   string          `json:"symbol"`
	Decimals                 uint64          `json:"decimals"`
	SupplyAPR                decimal.Decimal `json:"supplyApr"`
	SupplyAPY                decimal.Decimal `json:"supplyApy"`
	VariableBorrowAPR        decimal.Decimal `json:"variableBorrowApr"`
	VariableBorrowAPY        decimal.Decimal `json:"variableBorrowApy"`
	StableBorrowAPR          decimal.Decimal `json:"stableBorrowApr"`
	LoanToValue              decimal.Decimal `json:"loanToValue"`
	LiquidationThreshold     decimal.Decimal `json:"liquidationThreshold"`
	UsageAsCollateralEnabled bool            `json:"usageAsCollateralEnabled"`
	BorrowingEnabled         bool            `json:"borrowingEnabled"`
	IsActive                 bool            `json:"isActive"`
	IsFrozen                 bool            `json:"isFrozen"`
	LastUpdated              time.Time       `json:"lastUpdated"`
}

// MarketSnapshot is the cached market data for a network.
type MarketSnapshot struct {
	NetworkID uint64        `json:"networkId"`
	DataType  DataType      `json:"dataType"`
	Reserves  []ReserveRate `json:"reserves"`
	FetchedAt time.Time     `json:"fetchedAt"`
}
