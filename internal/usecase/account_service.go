package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"LendPulse/internal/domain/models"
	drepo "LendPulse/internal/domain/repository"
	"LendPulse/internal/service/cache"
	"LendPulse/pkg/logger"
	"LendPulse/pkg/queue"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnknownNetwork = errors.New("unknown network")
	// ErrDataUnavailable hides provider details from callers when a read
	// failed and nothing was cached.
	ErrDataUnavailable = errors.New("data unavailable")
)

// TTLs are the cache lifetimes per kind of value.
type TTLs struct {
	Account  time.Duration
	Health   time.Duration
	Market   time.Duration
	Position time.Duration
}

// Enqueuer submits background jobs. The queue manager satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName, name string, payload interface{}, opts ...queue.EnqueueOption) (*queue.Job, error)
}

// AccountView is an account state with derived metrics and freshness.
type AccountView struct {
	Account *models.AccountState `json:"account"`
	Metrics models.HealthMetrics `json:"metrics"`
	models.Freshness
}

// PositionsView is the per-reserve breakdown of an account.
type PositionsView struct {
	Address   string                       `json:"address"`
	NetworkID uint64                       `json:"networkId"`
	Positions []models.UserReservePosition `json:"positions"`
	models.Freshness
}

// ReservesView is the market data of a network.
type ReservesView struct {
	Market *models.MarketSnapshot `json:"market"`
	models.Freshness
}

// AccountService is the caller-facing read path: cache first, then the
// protocol reader, with in-flight de-duplication per key.
type AccountService struct {
	logger   *logger.Logger
	reader   drepo.ProtocolReader
	layer    *cache.Layer
	registry drepo.AccountRegistry
	jobs     Enqueuer
	ttl      TTLs
	networks map[uint64]struct{}
}

// NewAccountService creates the read path. registry and jobs may be nil.
func NewAccountService(
	lgr *logger.Logger,
	reader drepo.ProtocolReader,
	layer *cache.Layer,
	registry drepo.AccountRegistry,
	jobs Enqueuer,
	ttl TTLs,
	networks []uint64,
) *AccountService {
	set := make(map[uint64]struct{}, len(networks))
	for _, id := range networks {
		set[id] = struct{}{}
	}
	return &AccountService{
		logger:   lgr,
		reader:   reader,
		layer:    layer,
		registry: registry,
		jobs:     jobs,
		ttl:      ttl,
		networks: set,
	}
}

// Networks lists the served network ids in ascending order.
func (s *AccountService) Networks() []uint64 {
	out := make([]uint64, 0, len(s.networks))
	for id := range s.networks {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GetAccountState returns the account with metrics. On a read failure it
// falls back to the last health snapshot.
func (s *AccountService) GetAccountState(ctx context.Context, address string, networkID uint64) (*AccountView, error) {
	addr, err := s.check(address, networkID)
	if err != nil {
		return nil, err
	}
	s.touch(ctx, networkID, addr)

	res, err := cache.Fetch(ctx, s.layer, cache.AccountKey(addr, networkID), s.ttl.Account,
		func(ctx context.Context) (*models.AccountState, error) {
			return s.reader.GetAccountState(ctx, addr, networkID)
		})
	if err == nil && res.Value != nil {
		return &AccountView{
			Account:   res.Value,
			Metrics:   ComputeMetrics(res.Value, nil),
			Freshness: models.Freshness{FromCache: res.FromCache, LastUpdated: res.LastUpdated},
		}, nil
	}

	var snap models.HealthSnapshot
	if e, ok := s.layer.GetInto(ctx, cache.HealthKey(addr, networkID), &snap); ok {
		s.logger.Warn("serving account from health snapshot",
			logger.String("address", addr), logger.Uint64("network", networkID), logger.Error(err))
		return &AccountView{
			Account:   &snap.Account,
			Metrics:   snap.Metrics,
			Freshness: models.Freshness{FromCache: true, LastUpdated: e.WrittenAt},
		}, nil
	}
	s.logger.Error("account read failed",
		logger.String("address", addr), logger.Uint64("network", networkID), logger.Error(err))
	return nil, ErrDataUnavailable
}

// GetPositions returns per-reserve positions of an account.
func (s *AccountService) GetPositions(ctx context.Context, address string, networkID uint64) (*PositionsView, error) {
	addr, err := s.check(address, networkID)
	if err != nil {
		return nil, err
	}
	s.touch(ctx, networkID, addr)

	res, err := cache.Fetch(ctx, s.layer, cache.PositionsKey(addr, networkID), s.ttl.Position,
		func(ctx context.Context) (*[]models.UserReservePosition, error) {
			p, err := s.reader.GetUserPositions(ctx, addr, networkID)
			if err != nil {
				return nil, err
			}
			return &p, nil
		})
	if err != nil || res.Value == nil {
		s.logger.Error("positions read failed",
			logger.String("address", addr), logger.Uint64("network", networkID), logger.Error(err))
		return nil, ErrDataUnavailable
	}
	return &PositionsView{
		Address:   addr,
		NetworkID: networkID,
		Positions: *res.Value,
		Freshness: models.Freshness{FromCache: res.FromCache, LastUpdated: res.LastUpdated},
	}, nil
}

// GetReserves returns the reserve rates of a network.
func (s *AccountService) GetReserves(ctx context.Context, networkID uint64) (*ReservesView, error) {
	if _, ok := s.networks[networkID]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNetwork, networkID)
	}
	res, err := cache.Fetch(ctx, s.layer, cache.MarketKey(networkID, string(models.DataTypeAll)), s.ttl.Market,
		func(ctx context.Context) (*models.MarketSnapshot, error) {
			return readMarket(ctx, s.reader, networkID, models.DataTypeAll)
		})
	if err != nil || res.Value == nil {
		s.logger.Error("reserves read failed", logger.Uint64("network", networkID), logger.Error(err))
		return nil, ErrDataUnavailable
	}
	return &ReservesView{
		Market:    res.Value,
		Freshness: models.Freshness{FromCache: res.FromCache, LastUpdated: res.LastUpdated},
	}, nil
}

// RequestRefresh queues a forced health update for an account.
func (s *AccountService) RequestRefresh(ctx context.Context, address string, networkID uint64) (*queue.Job, error) {
	addr, err := s.check(address, networkID)
	if err != nil {
		return nil, err
	}
	if s.jobs == nil {
		return nil, fmt.Errorf("background jobs disabled")
	}
	s.touch(ctx, networkID, addr)
	return s.jobs.Enqueue(ctx, QueueHealth, JobHealthUpdate, models.HealthUpdatePayload{
		UserAddress: addr,
		NetworkID:   networkID,
		ForceUpdate: true,
	}, queue.WithPriority(1))
}

func (s *AccountService) check(address string, networkID uint64) (string, error) {
	if _, ok := s.networks[networkID]; !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownNetwork, networkID)
	}
	return normalizeAddress(address)
}

func (s *AccountService) touch(ctx context.Context, networkID uint64, addr string) {
	if s.registry == nil {
		return
	}
	if err := s.registry.Touch(ctx, networkID, addr); err != nil {
		s.logger.Warn("registry touch failed", logger.String("address", addr), logger.Error(err))
	}
}

func normalizeAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("%w: bad address %q", ErrInvalidRequest, address)
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}
