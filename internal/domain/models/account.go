package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// HealthFactor is a normalized health factor. Infinite marks accounts with no debt.
type HealthFactor struct {
	Value    decimal.Decimal
	Infinite bool
}

// InfiniteHealthFactor is the sentinel for debt-free accounts.
var InfiniteHealthFactor = HealthFactor{Infinite: true}

// NewHealthFactor wraps a finite value.
func NewHealthFactor(v decimal.Decimal) HealthFactor {
	return HealthFactor{Value: v}
}

// AtLeast reports whether the factor is greater than or equal to threshold.
func (h HealthFactor) AtLeast(threshold float64) bool {
	if h.Infinite {
		return true
	}
	return h.Value.GreaterThanOrEqual(decimal.NewFromFloat(threshold))
}

func (h HealthFactor) String() string {
	if h.Infinite {
		return "infinity"
	}
	return h.Value.String()
}

const infinityLiteral = `"infinity"`

func (h HealthFactor) MarshalJSON() ([]byte, error) {
	if h.Infinite {
		return []byte(infinityLiteral), nil
	}
	return []byte(h.Value.String()), nil
}

func (h *HealthFactor) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == infinityLiteral || string(b) == "null" {
		*h = InfiniteHealthFactor
		return nil
	}
	var d decimal.Decimal
	if err := json.Unmarshal(b, &d); err != nil {
		return fmt.Errorf("health factor: %w", err)
	}
	*h = HealthFactor{Value: d}
	return nil
}

// AccountState is the normalized view of a single account on one network.
// Base-currency amounts are in the protocol's USD base unit.
type AccountState struct {
	Address              string          `json:"address"`
	NetworkID            uint64          `json:"networkId"`
	TotalCollateral      decimal.Decimal `json:"totalCollateral"`
	TotalDebt            decimal.Decimal `json:"totalDebt"`
	AvailableBorrows     decimal.Decimal `json:"availableBorrows"`
	LiquidationThreshold decimal.Decimal `json:"liquidationThreshold"`
	LoanToValue          decimal.Decimal `json:"loanToValue"`
	HealthFactor         HealthFactor    `json:"healthFactor"`
	FetchedAt            time.Time       `json:"fetchedAt"`
}

// HasDebt reports whether the account owes anything above dust.
func (a *AccountState) HasDebt() bool {
	return a.TotalDebt.GreaterThan(NegligibleDebt)
}

// NegligibleDebt is the base-currency amount below which debt is treated as zero.
var NegligibleDebt = decimal.New(1, -6)

// UserReservePosition is one account's supply/borrow position in a single reserve.
type UserReservePosition struct {
	Asset                    string          `json:"asset"`
	Symbol                   string          `json:"symbol"`
	Supplied                 decimal.Decimal `json:"supplied"`
	StableDebt               decimal.Decimal `json:"stableDebt"`
	VariableDebt             decimal.Decimal `json:"variableDebt"`
	UsageAsCollateralEnabled bool            `json:"usageAsCollateralEnabled"`
}

// Borrowed returns the total debt in the reserve.
func (p UserReservePosition) Borrowed() decimal.Decimal {
	return p.StableDebt.Add(p.VariableDebt)
}

// Freshness annotates values handed to callers.
type Freshness struct {
	FromCache   bool      `json:"fromCache"`
	LastUpdated time.Time `json:"lastUpdated"`
}
