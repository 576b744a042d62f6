package repository

import (
	"context"
	"time"

	"LendPulse/internal/domain/models"
)

// ProtocolReader performs read-only protocol calls and normalizes the results.
type ProtocolReader interface {
	GetAccountState(ctx context.Context, address string, networkID uint64) (*models.AccountState, error)
	GetUserPositions(ctx context.Context, address string, networkID uint64) ([]models.UserReservePosition, error)
	GetReserveRates(ctx context.Context, networkID uint64) ([]models.ReserveRate, error)
}

// AccountRegistry tracks which accounts are worth refreshing in the background.
type AccountRegistry interface {
	Touch(ctx context.Context, networkID uint64, address string) error
	Active(ctx context.Context, networkID uint64, limit int) ([]string, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// SnapshotSink receives computed health snapshots. Failures never fail a job.
type SnapshotSink interface {
	WriteSnapshot(ctx context.Context, s *models.HealthSnapshot) error
	Close() error
}

type Metrics interface {
	RecordCacheLookup(namespace, result string)
	RecordResolve(network, outcome string)
	RecordChainRead(network, op string, seconds float64, err error)
	RecordJob(queue, job, outcome string, seconds float64)
	RecordRateLimit(action string, allowed bool)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) RecordCacheLookup(string, string)               {}
func (NopMetrics) RecordResolve(string, string)                   {}
func (NopMetrics) RecordChainRead(string, string, float64, error) {}
func (NopMetrics) RecordJob(string, string, string, float64)      {}
func (NopMetrics) RecordRateLimit(string, bool)                   {}
