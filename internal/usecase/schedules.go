package usecase

import (
	"context"
	"fmt"
	"time"

	"LendPulse/internal/domain/models"
)

// Scheduler registers recurring jobs. The queue manager satisfies it.
type Scheduler interface {
	EnqueueRecurring(ctx context.Context, queueName, name string, every time.Duration, payload interface{}) error
}

// Schedules are the refresh intervals. A zero interval disables the schedule.
type Schedules struct {
	MarketData   time.Duration
	Health       time.Duration
	CacheCleanup time.Duration
}

// RegisterSchedules installs the recurring refresh jobs. Every schedule has
// a fixed id, so calling this on each start never duplicates timers.
func RegisterSchedules(ctx context.Context, s Scheduler, cfg Schedules) error {
	entries := []struct {
		queue, name string
		every       time.Duration
		payload     interface{}
	}{
		{QueueMarket, JobBulkMarketData, cfg.MarketData, models.BulkPayload{}},
		{QueueHealth, JobBulkHealthUpdate, cfg.Health, models.BulkPayload{}},
		{QueueMaintenance, JobCacheCleanup, cfg.CacheCleanup, models.CleanupPayload{}},
	}
	for _, e := range entries {
		if e.every <= 0 {
			continue
		}
		if err := s.EnqueueRecurring(ctx, e.queue, e.name, e.every, e.payload); err != nil {
			return fmt.Errorf("register %s: %w", e.name, err)
		}
	}
	return nil
}
