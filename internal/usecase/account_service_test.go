package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"LendPulse/internal/domain/models"
	drepo "LendPulse/internal/domain/repository"
	"LendPulse/pkg/logger"
)

func newService(reader *fakeReader, clk *testClock, reg *fakeRegistry, jobs Enqueuer) *AccountService {
	// avoid passing a typed-nil *fakeRegistry as a non-nil interface
	var registry drepo.AccountRegistry
	if reg != nil {
		registry = reg
	}
	svc := NewAccountService(logger.Nop(), reader, newTestLayer(clk), registry, jobs, testTTLs, []uint64{1, 42161})
	return svc
}

func TestGetAccountStateCachesAndAnnotates(t *testing.T) {
	clk := &testClock{t: time.Now()}
	reader := &fakeReader{state: debtFreeState()}
	reg := &fakeRegistry{}
	svc := newService(reader, clk, reg, nil)
	ctx := context.Background()

	first, err := svc.GetAccountState(ctx, "0x00000000000000000000000000000000000000AA", 42161)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first.FromCache || first.Account.Address != testAddr {
		t.Fatalf("unexpected first view %+v", first)
	}
	if first.Metrics.HealthScore != 100 || first.Metrics.LiquidationRisk != models.RiskVeryLow {
		t.Fatalf("unexpected metrics %+v", first.Metrics)
	}

	clk.Advance(time.Minute)
	second, err := svc.GetAccountState(ctx, testAddr, 42161)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !second.FromCache || !second.LastUpdated.Equal(first.LastUpdated) {
		t.Fatalf("expected cached view written at %v, got %+v", first.LastUpdated, second.Freshness)
	}
	if reader.calls != 1 {
		t.Fatalf("expected one chain read, got %d", reader.calls)
	}
	if len(reg.touched) != 2 {
		t.Fatalf("reads must be recorded in the registry, got %v", reg.touched)
	}
}

func TestGetAccountStateFallsBackToSnapshot(t *testing.T) {
	clk := &testClock{t: time.Now()}
	reader := &fakeReader{state: debtFreeState()}
	svc := newService(reader, clk, nil, nil)
	r := NewRefresher(logger.Nop(), reader, svc.layer, nil, nil, nil, RefresherConfig{TTL: testTTLs})
	r.now = clk.Now
	ctx := context.Background()

	if _, err := r.UpdateHealth(ctx, models.HealthUpdatePayload{UserAddress: testAddr, NetworkID: 1}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// account entries live 2 minutes, health snapshots 5
	clk.Advance(3 * time.Minute)
	reader.fail(errRPC)

	view, err := svc.GetAccountState(ctx, testAddr, 1)
	if err != nil {
		t.Fatalf("expected snapshot fallback, got %v", err)
	}
	if !view.FromCache || view.Metrics.HealthScore != 100 {
		t.Fatalf("unexpected fallback view %+v", view)
	}
}

func TestGetAccountStateDataUnavailable(t *testing.T) {
	clk := &testClock{t: time.Now()}
	svc := newService(&fakeReader{err: errRPC}, clk, nil, nil)
	_, err := svc.GetAccountState(context.Background(), testAddr, 1)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if errors.Is(err, errRPC) {
		t.Fatalf("provider details must not leak")
	}
}

func TestAccountServiceValidation(t *testing.T) {
	clk := &testClock{t: time.Now()}
	svc := newService(&fakeReader{state: debtFreeState()}, clk, nil, nil)
	ctx := context.Background()
	if _, err := svc.GetAccountState(ctx, "not-an-address", 1); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.GetAccountState(ctx, testAddr, 10); !errors.Is(err, ErrUnknownNetwork) {
		t.Fatalf("expected ErrUnknownNetwork, got %v", err)
	}
	if _, err := svc.GetReserves(ctx, 10); !errors.Is(err, ErrUnknownNetwork) {
		t.Fatalf("expected ErrUnknownNetwork, got %v", err)
	}
}

func TestRequestRefreshEnqueuesForcedUpdate(t *testing.T) {
	clk := &testClock{t: time.Now()}
	jobs := &fakeEnqueuer{now: clk.Now()}
	svc := newService(&fakeReader{state: debtFreeState()}, clk, nil, jobs)
	job, err := svc.RequestRefresh(context.Background(), testAddr, 42161)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if job.Queue != QueueHealth || job.Name != JobHealthUpdate || job.Priority != 1 {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestGetPositionsAndReserves(t *testing.T) {
	clk := &testClock{t: time.Now()}
	reader := &fakeReader{
		state:     debtFreeState(),
		positions: []models.UserReservePosition{{Symbol: "WETH"}},
		rates:     []models.ReserveRate{{Symbol: "USDC", IsActive: true}},
	}
	svc := newService(reader, clk, nil, nil)
	ctx := context.Background()
	pos, err := svc.GetPositions(ctx, testAddr, 1)
	if err != nil || len(pos.Positions) != 1 || pos.Positions[0].Symbol != "WETH" {
		t.Fatalf("unexpected positions %+v %v", pos, err)
	}
	res, err := svc.GetReserves(ctx, 1)
	if err != nil || len(res.Market.Reserves) != 1 || res.FromCache {
		t.Fatalf("unexpected reserves %+v %v", res, err)
	}
	again, _ := svc.GetReserves(ctx, 1)
	if !again.FromCache {
		t.Fatalf("second reserves read must be served from cache")
	}
}
