package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"LendPulse/internal/domain/models"
	"LendPulse/internal/service/cache"
	"LendPulse/pkg/logger"
	"LendPulse/pkg/queue"
)

func newRefresher(reader *fakeReader, clk *testClock, reg *fakeRegistry, jobs Enqueuer) (*Refresher, *cache.Layer) {
	layer := newTestLayer(clk)
	r := NewRefresher(logger.Nop(), reader, layer, reg, nil, jobs, RefresherConfig{
		TTL:       testTTLs,
		Networks:  []uint64{1, 42161},
		Watchlist: map[uint64][]string{42161: {"0x00000000000000000000000000000000000000BB"}},
		Stagger:   time.Second,
		MaxPerRun: 10,
		Retention: 24 * time.Hour,
	})
	r.now = clk.Now
	return r, layer
}

func TestHealthUpdateDebtFreeAccount(t *testing.T) {
	clk := &testClock{t: time.Now()}
	reader := &fakeReader{state: debtFreeState()}
	r, layer := newRefresher(reader, clk, nil, nil)

	snap, err := r.UpdateHealth(context.Background(), models.HealthUpdatePayload{UserAddress: testAddr, NetworkID: 42161})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !snap.Account.HealthFactor.Infinite {
		t.Fatalf("expected infinite health factor, got %s", snap.Account.HealthFactor)
	}
	if snap.Metrics.HealthScore != 100 || snap.Metrics.LiquidationRisk != models.RiskVeryLow {
		t.Fatalf("unexpected metrics %+v", snap.Metrics)
	}

	var cached models.HealthSnapshot
	if _, ok := layer.GetInto(context.Background(), cache.HealthKey(testAddr, 42161), &cached); !ok {
		t.Fatalf("snapshot was not cached")
	}
	if !cached.Account.HealthFactor.Infinite || cached.Metrics.HealthScore != 100 {
		t.Fatalf("cached snapshot lost its values: %+v", cached)
	}
	var account models.AccountState
	if _, ok := layer.GetInto(context.Background(), cache.AccountKey(testAddr, 42161), &account); !ok {
		t.Fatalf("account state was not cached alongside the snapshot")
	}
}

func TestHealthUpdateUsesCachedSnapshotOnReadFailure(t *testing.T) {
	clk := &testClock{t: time.Now()}
	reader := &fakeReader{state: debtFreeState()}
	r, _ := newRefresher(reader, clk, nil, nil)
	ctx := context.Background()
	p := models.HealthUpdatePayload{UserAddress: testAddr, NetworkID: 42161, ForceUpdate: true}

	first, err := r.UpdateHealth(ctx, p)
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	clk.Advance(2 * time.Minute)
	reader.fail(errRPC)

	job := &queue.Job{Name: JobHealthUpdate}
	job.Payload, _ = json.Marshal(p)
	if err := r.processHealth(ctx, job); err != nil {
		t.Fatalf("job must succeed from the cached snapshot, got %v", err)
	}
	snap, err := r.UpdateHealth(ctx, p)
	if err != nil {
		t.Fatalf("update with fallback: %v", err)
	}
	if !snap.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("expected the earlier snapshot, got one from %v", snap.UpdatedAt)
	}
}

func TestHealthUpdateFailsWithoutFallback(t *testing.T) {
	clk := &testClock{t: time.Now()}
	reader := &fakeReader{state: debtFreeState(), err: errRPC}
	r, _ := newRefresher(reader, clk, nil, nil)
	_, err := r.UpdateHealth(context.Background(), models.HealthUpdatePayload{UserAddress: testAddr, NetworkID: 1})
	if !errors.Is(err, errRPC) {
		t.Fatalf("expected the read error, got %v", err)
	}

	// expired snapshots are not a fallback
	reader.fail(nil)
	if _, err := r.UpdateHealth(context.Background(), models.HealthUpdatePayload{UserAddress: testAddr, NetworkID: 1}); err != nil {
		t.Fatalf("update: %v", err)
	}
	clk.Advance(6 * time.Minute)
	reader.fail(errRPC)
	if _, err := r.UpdateHealth(context.Background(), models.HealthUpdatePayload{UserAddress: testAddr, NetworkID: 1, ForceUpdate: true}); err == nil {
		t.Fatalf("expected failure once the snapshot expired")
	}
}

func TestHealthUpdateServesCacheUnlessForced(t *testing.T) {
	clk := &testClock{t: time.Now()}
	reader := &fakeReader{state: debtFreeState()}
	r, _ := newRefresher(reader, clk, nil, nil)
	ctx := context.Background()
	p := models.HealthUpdatePayload{UserAddress: testAddr, NetworkID: 1}
	for i := 0; i < 3; i++ {
		if _, err := r.UpdateHealth(ctx, p); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	if reader.calls != 1 {
		t.Fatalf("expected one read, got %d", reader.calls)
	}
	p.ForceUpdate = true
	if _, err := r.UpdateHealth(ctx, p); err != nil {
		t.Fatalf("forced update: %v", err)
	}
	if reader.calls != 2 {
		t.Fatalf("forced update must read, got %d reads", reader.calls)
	}
}

func TestMarketUpdate(t *testing.T) {
	clk := &testClock{t: time.Now()}
	reader := &fakeReader{rates: []models.ReserveRate{
		{Symbol: "USDC", IsActive: true, SupplyAPY: decimal.RequireFromString("0.05")},
		{Symbol: "OLD", IsActive: false},
	}}
	r, _ := newRefresher(reader, clk, nil, nil)
	ctx := context.Background()

	snap, err := r.UpdateMarket(ctx, models.MarketDataPayload{NetworkID: 137, DataType: models.DataTypeAPYs})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(snap.Reserves) != 1 || snap.Reserves[0].Symbol != "USDC" {
		t.Fatalf("apys must only carry active reserves, got %+v", snap.Reserves)
	}
	all, err := r.UpdateMarket(ctx, models.MarketDataPayload{NetworkID: 137, DataType: models.DataTypeAll})
	if err != nil || len(all.Reserves) != 2 {
		t.Fatalf("all must carry every reserve, got %+v %v", all, err)
	}

	reader.fail(errRPC)
	cached, err := r.UpdateMarket(ctx, models.MarketDataPayload{NetworkID: 137, DataType: models.DataTypeAll, ForceUpdate: true})
	if err != nil || len(cached.Reserves) != 2 {
		t.Fatalf("expected cached market data, got %+v %v", cached, err)
	}
	if _, err := r.UpdateMarket(ctx, models.MarketDataPayload{NetworkID: 137, DataType: "volumes"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid data type, got %v", err)
	}
}

func TestFanOutHealthStaggers(t *testing.T) {
	clk := &testClock{t: time.Now()}
	jobs := &fakeEnqueuer{now: clk.Now()}
	reg := &fakeRegistry{active: map[uint64][]string{
		1:     {"0x00000000000000000000000000000000000000c1"},
		42161: {"0x00000000000000000000000000000000000000bb", "0x00000000000000000000000000000000000000c2"},
	}}
	r, _ := newRefresher(&fakeReader{}, clk, reg, jobs)

	n, err := r.FanOutHealth(context.Background(), "repeat:health-updates:bulk-health-update:1", models.BulkPayload{})
	if err != nil {
		t.Fatalf("fan out: %v", err)
	}
	// the watchlisted account is also active and must not be queued twice
	if n != 3 || len(jobs.jobs) != 3 {
		t.Fatalf("expected 3 children, got %d", n)
	}
	for i, e := range jobs.jobs {
		if e.queue != QueueHealth || e.name != JobHealthUpdate {
			t.Fatalf("unexpected child %s/%s", e.queue, e.name)
		}
		if got := e.job.RunAt.Sub(clk.Now()); got != time.Duration(i)*time.Second {
			t.Fatalf("child %d delayed %s", i, got)
		}
		if !strings.HasPrefix(e.job.ID, "repeat:health-updates:bulk-health-update:1:") {
			t.Fatalf("child id %s not derived from parent", e.job.ID)
		}
	}
}

func TestFanOutMarketSingleNetwork(t *testing.T) {
	clk := &testClock{t: time.Now()}
	jobs := &fakeEnqueuer{now: clk.Now()}
	r, _ := newRefresher(&fakeReader{}, clk, nil, jobs)
	n, err := r.FanOutMarket(context.Background(), "parent", models.BulkPayload{NetworkID: 42161})
	if err != nil || n != 1 {
		t.Fatalf("expected one child, got %d %v", n, err)
	}
	if jobs.jobs[0].job.ID != "parent:42161" {
		t.Fatalf("unexpected child id %s", jobs.jobs[0].job.ID)
	}
}

func TestCleanup(t *testing.T) {
	clk := &testClock{t: time.Now()}
	reg := &fakeRegistry{}
	r, layer := newRefresher(&fakeReader{}, clk, reg, nil)
	ctx := context.Background()
	layer.Set(ctx, cache.HealthKey(testAddr, 1), map[string]int{"a": 1}, time.Minute)
	layer.Set(ctx, cache.MarketKey(1, "apys"), map[string]int{"a": 1}, time.Hour)
	clk.Advance(2 * time.Minute)

	removed, err := r.Cleanup(ctx, models.CleanupPayload{Patterns: []string{cache.MarketPattern()}})
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected one expired and one pattern match removed, got %d", removed)
	}
	if !reg.prunedAt.Equal(clk.Now().Add(-24 * time.Hour)) {
		t.Fatalf("registry pruned at %v", reg.prunedAt)
	}
}

type recordingScheduler struct{ ids map[string]time.Duration }

func (s *recordingScheduler) EnqueueRecurring(_ context.Context, q, name string, every time.Duration, _ interface{}) error {
	s.ids[queue.RecurringID(q, name)] = every
	return nil
}

func TestRegisterSchedules(t *testing.T) {
	s := &recordingScheduler{ids: map[string]time.Duration{}}
	err := RegisterSchedules(context.Background(), s, Schedules{MarketData: 5 * time.Minute, Health: 10 * time.Minute})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(s.ids) != 2 || s.ids["repeat:market-data:bulk-market-data"] != 5*time.Minute ||
		s.ids["repeat:health-updates:bulk-health-update"] != 10*time.Minute {
		t.Fatalf("unexpected schedules %v", s.ids)
	}
}
