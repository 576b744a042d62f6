package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"LendPulse/internal/domain/models"
	drepo "LendPulse/internal/domain/repository"
)

// SnapshotSchema creates the health snapshot archive table.
func SnapshotSchema(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    ts DateTime64(3),
    network_id UInt64,
    address String,
    total_collateral Decimal(38, 8),
    total_debt Decimal(38, 8),
    available_borrows Decimal(38, 8),
    liquidation_threshold Float64,
    loan_to_value Float64,
    health_factor Nullable(Float64),
    health_score UInt8,
    liquidation_risk LowCardinality(String),
    capital_efficiency Float64,
    positions UInt16
) ENGINE = MergeTree
PARTITION BY toYYYYMM(ts)
ORDER BY (network_id, address, ts)
TTL toDateTime(ts) + INTERVAL 90 DAY`, table),
	}
}

// ClickHouseSnapshotSink archives every computed health snapshot.
type ClickHouseSnapshotSink struct {
	db    *sql.DB
	table string
}

// NewClickHouseSnapshotSink creates the sink. The schema is created by the caller.
func NewClickHouseSnapshotSink(db *sql.DB, table string) *ClickHouseSnapshotSink {
	return &ClickHouseSnapshotSink{db: db, table: table}
}

const snapshotColumns = "ts, network_id, address, total_collateral, total_debt, available_borrows, " +
	"liquidation_threshold, loan_to_value, health_factor, health_score, liquidation_risk, capital_efficiency, positions"

func (s *ClickHouseSnapshotSink) WriteSnapshot(ctx context.Context, snap *models.HealthSnapshot) error {
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table, snapshotColumns)
	if _, err := s.db.ExecContext(ctx, q, snapshotRow(snap)...); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// snapshotRow maps a snapshot to the archive columns. An infinite health
// factor is stored as NULL.
func snapshotRow(snap *models.HealthSnapshot) []interface{} {
	a := snap.Account
	var hf *float64
	if !a.HealthFactor.Infinite {
		v, _ := a.HealthFactor.Value.Float64()
		hf = &v
	}
	lt, _ := a.LiquidationThreshold.Float64()
	ltv, _ := a.LoanToValue.Float64()
	ts := snap.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return []interface{}{
		ts.UTC(),
		a.NetworkID,
		a.Address,
		a.TotalCollateral,
		a.TotalDebt,
		a.AvailableBorrows,
		lt,
		ltv,
		hf,
		uint8(snap.Metrics.HealthScore),
		string(snap.Metrics.LiquidationRisk),
		snap.Metrics.CapitalEfficiency,
		uint16(len(snap.Positions)),
	}
}

// Close is a no-op; the pool belongs to the ClickHouse client.
func (s *ClickHouseSnapshotSink) Close() error { return nil }

// MultiSink writes to every sink and joins their errors.
type MultiSink []drepo.SnapshotSink

func (m MultiSink) WriteSnapshot(ctx context.Context, snap *models.HealthSnapshot) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteSnapshot(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
