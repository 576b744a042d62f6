package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"LendPulse/internal/domain/models"
	"LendPulse/internal/service/cache"
	pkgcache "LendPulse/pkg/cache"
	"LendPulse/pkg/logger"
	"LendPulse/pkg/queue"
)

var errRPC = errors.New("rpc down")

type fakeReader struct {
	mu        sync.Mutex
	state     *models.AccountState
	positions []models.UserReservePosition
	rates     []models.ReserveRate
	err       error
	calls     int
}

func (f *fakeReader) GetAccountState(_ context.Context, address string, networkID uint64) (*models.AccountState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	s := *f.state
	s.Address = address
	s.NetworkID = networkID
	return &s, nil
}

func (f *fakeReader) GetUserPositions(context.Context, string, uint64) ([]models.UserReservePosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.positions, nil
}

func (f *fakeReader) GetReserveRates(context.Context, uint64) ([]models.ReserveRate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rates, nil
}

func (f *fakeReader) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeRegistry struct {
	touched  []string
	active   map[uint64][]string
	prunedAt time.Time
}

func (r *fakeRegistry) Touch(_ context.Context, _ uint64, address string) error {
	r.touched = append(r.touched, address)
	return nil
}

func (r *fakeRegistry) Active(_ context.Context, networkID uint64, limit int) ([]string, error) {
	a := r.active[networkID]
	if len(a) > limit {
		a = a[:limit]
	}
	return a, nil
}

func (r *fakeRegistry) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	r.prunedAt = olderThan
	return 1, nil
}

type enqueued struct {
	queue, name string
	job         *queue.Job
}

type fakeEnqueuer struct {
	now  time.Time
	jobs []enqueued
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, queueName, name string, payload interface{}, opts ...queue.EnqueueOption) (*queue.Job, error) {
	job := &queue.Job{Queue: queueName, Name: name, RunAt: e.now}
	for _, opt := range opts {
		opt(job)
	}
	e.jobs = append(e.jobs, enqueued{queue: queueName, name: name, job: job})
	return job, nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLayer(clk *testClock) *cache.Layer {
	mem := pkgcache.NewMemoryCache(pkgcache.WithMemoryCleanup(0), pkgcache.WithMemoryClock(clk.Now))
	l := cache.NewLayer(mem, logger.Nop(), nil)
	l.SetClock(clk.Now)
	return l
}

var testTTLs = TTLs{
	Account:  2 * time.Minute,
	Health:   5 * time.Minute,
	Market:   10 * time.Minute,
	Position: 5 * time.Minute,
}

const testAddr = "0x00000000000000000000000000000000000000aa"

func debtFreeState() *models.AccountState {
	return &models.AccountState{
		TotalCollateral:      decimal.NewFromInt(1000),
		TotalDebt:            decimal.Zero,
		AvailableBorrows:     decimal.NewFromInt(800),
		LiquidationThreshold: decimal.RequireFromString("0.825"),
		LoanToValue:          decimal.RequireFromString("0.8"),
		HealthFactor:         models.InfiniteHealthFactor,
	}
}
