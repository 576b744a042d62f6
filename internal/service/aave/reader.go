package aave

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"LendPulse/internal/domain/models"
	drepo "LendPulse/internal/domain/repository"
	"LendPulse/internal/service/chain"
	"LendPulse/pkg/logger"
)

var ErrInvalidAddress = errors.New("aave: invalid account address")

// HandleSource hands out validated chain handles.
type HandleSource interface {
	Get(ctx context.Context, networkID uint64) (*chain.Handle, error)
	Invalidate(networkID uint64)
}

// Pacing limits outbound calls per network.
type Pacing struct {
	RPS   float64
	Burst int
}

// Reader implements repository.ProtocolReader against Aave v3 contracts.
type Reader struct {
	logger   *logger.Logger
	metrics  drepo.Metrics
	source   HandleSource
	now      func() time.Time
	mu       sync.Mutex
	limiters map[uint64]*rate.Limiter
	pacing   map[uint64]Pacing
}

var _ drepo.ProtocolReader = (*Reader)(nil)

// NewReader creates a reader. pacing may be nil for unthrottled reads.
func NewReader(lgr *logger.Logger, m drepo.Metrics, source HandleSource, pacing map[uint64]Pacing) *Reader {
	if m == nil {
		m = drepo.NopMetrics{}
	}
	return &Reader{
		logger:   lgr,
		metrics:  m,
		source:   source,
		now:      time.Now,
		limiters: make(map[uint64]*rate.Limiter),
		pacing:   pacing,
	}
}

// GetAccountState reads the account summary and normalizes it.
func (r *Reader) GetAccountState(ctx context.Context, address string, networkID uint64) (*models.AccountState, error) {
	user, err := parseAddress(address)
	if err != nil {
		return nil, readErr("account", networkID, err)
	}
	start := time.Now()
	state, err := r.accountState(ctx, user, networkID)
	r.metrics.RecordChainRead(strconv.FormatUint(networkID, 10), "account", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, readErr("account", networkID, err)
	}
	return state, nil
}

func (r *Reader) accountState(ctx context.Context, user common.Address, networkID uint64) (*models.AccountState, error) {
	h, err := r.source.Get(ctx, networkID)
	if err != nil {
		return nil, err
	}
	poolAddr, err := r.poolAddress(ctx, h)
	if err != nil {
		return nil, err
	}
	out, err := r.call(ctx, h, poolAddr, pool, "getUserAccountData", user)
	if err != nil {
		return nil, err
	}
	if len(out) != 6 {
		return nil, fmt.Errorf("getUserAccountData: unexpected %d outputs", len(out))
	}
	raw := make([]*big.Int, 6)
	for i := range out {
		v, ok := out[i].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("getUserAccountData: output %d has type %T", i, out[i])
		}
		raw[i] = v
	}

	debt := scale(raw[1], baseCurrencyDecimals)
	return &models.AccountState{
		Address:              user.Hex(),
		NetworkID:            networkID,
		TotalCollateral:      scale(raw[0], baseCurrencyDecimals),
		TotalDebt:            debt,
		AvailableBorrows:     scale(raw[2], baseCurrencyDecimals),
		LiquidationThreshold: scale(raw[3], percentDecimals),
		LoanToValue:          scale(raw[4], percentDecimals),
		HealthFactor:         normalizeHealthFactor(raw[5], debt),
		FetchedAt:            r.now().UTC(),
	}, nil
}

// GetUserPositions reads per-reserve supply and borrow balances, skipping empty reserves.
func (r *Reader) GetUserPositions(ctx context.Context, address string, networkID uint64) ([]models.UserReservePosition, error) {
	user, err := parseAddress(address)
	if err != nil {
		return nil, readErr("positions", networkID, err)
	}
	start := time.Now()
	positions, err := r.userPositions(ctx, user, networkID)
	r.metrics.RecordChainRead(strconv.FormatUint(networkID, 10), "positions", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, readErr("positions", networkID, err)
	}
	return positions, nil
}

func (r *Reader) userPositions(ctx context.Context, user common.Address, networkID uint64) ([]models.UserReservePosition, error) {
	h, err := r.source.Get(ctx, networkID)
	if err != nil {
		return nil, err
	}
	tokens, err := r.reserveTokens(ctx, h)
	if err != nil {
		return nil, err
	}

	positions := make([]models.UserReservePosition, 0)
	for _, tok := range tokens {
		out, err := r.call(ctx, h, h.Contracts.DataProvider, dataProvider, "getUserReserveData", tok.TokenAddress, user)
		if err != nil {
			return nil, err
		}
		if len(out) != 9 {
			return nil, fmt.Errorf("getUserReserveData: unexpected %d outputs", len(out))
		}
		supplied, _ := out[0].(*big.Int)
		stable, _ := out[1].(*big.Int)
		variable, _ := out[2].(*big.Int)
		collateral, _ := out[8].(bool)
		if isZero(supplied) && isZero(stable) && isZero(variable) {
			continue
		}
		cfg, err := r.reserveConfig(ctx, h, tok.TokenAddress)
		if err != nil {
			return nil, err
		}
		dec := int32(cfg.decimals)
		positions = append(positions, models.UserReservePosition{
			Asset:                    tok.TokenAddress.Hex(),
			Symbol:                   tok.Symbol,
			Supplied:                 scale(supplied, dec),
			StableDebt:               scale(stable, dec),
			VariableDebt:             scale(variable, dec),
			UsageAsCollateralEnabled: collateral,
		})
	}
	return positions, nil
}

// GetReserveRates reads rates and configuration for every listed reserve.
func (r *Reader) GetReserveRates(ctx context.Context, networkID uint64) ([]models.ReserveRate, error) {
	start := time.Now()
	rates, err := r.reserveRates(ctx, networkID)
	r.metrics.RecordChainRead(strconv.FormatUint(networkID, 10), "reserves", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, readErr("reserves", networkID, err)
	}
	return rates, nil
}

func (r *Reader) reserveRates(ctx context.Context, networkID uint64) ([]models.ReserveRate, error) {
	h, err := r.source.Get(ctx, networkID)
	if err != nil {
		return nil, err
	}
	poolAddr, err := r.poolAddress(ctx, h)
	if err != nil {
		return nil, err
	}
	tokens, err := r.reserveTokens(ctx, h)
	if err != nil {
		return nil, err
	}

	rates := make([]models.ReserveRate, 0, len(tokens))
	for _, tok := range tokens {
		data, err := r.call(ctx, h, poolAddr, pool, "getReserveData", tok.TokenAddress)
		if err != nil {
			return nil, err
		}
		if len(data) != 15 {
			return nil, fmt.Errorf("getReserveData: unexpected %d outputs", len(data))
		}
		cfg, err := r.reserveConfig(ctx, h, tok.TokenAddress)
		if err != nil {
			return nil, err
		}
		liquidityRate, _ := data[2].(*big.Int)
		variableRate, _ := data[4].(*big.Int)
		stableRate, _ := data[5].(*big.Int)
		updated, _ := data[6].(*big.Int)

		supplyAPR := rayToAPR(liquidityRate)
		variableAPR := rayToAPR(variableRate)
		rr := models.ReserveRate{
			Asset:                    tok.TokenAddress.Hex(),
			Symbol:                   tok.Symbol,
			Decimals:                 cfg.decimals,
			SupplyAPR:                supplyAPR,
			SupplyAPY:                aprToAPY(supplyAPR),
			VariableBorrowAPR:        variableAPR,
			VariableBorrowAPY:        aprToAPY(variableAPR),
			StableBorrowAPR:          rayToAPR(stableRate),
			LoanToValue:              scale(cfg.ltv, percentDecimals),
			LiquidationThreshold:     scale(cfg.liquidationThreshold, percentDecimals),
			UsageAsCollateralEnabled: cfg.usageAsCollateral,
			BorrowingEnabled:         cfg.borrowingEnabled,
			IsActive:                 cfg.isActive,
			IsFrozen:                 cfg.isFrozen,
		}
		if updated != nil && updated.Sign() > 0 {
			rr.LastUpdated = time.Unix(updated.Int64(), 0).UTC()
		}
		rates = append(rates, rr)
	}
	return rates, nil
}

type reserveConfiguration struct {
	decimals             uint64
	ltv                  *big.Int
	liquidationThreshold *big.Int
	usageAsCollateral    bool
	borrowingEnabled     bool
	isActive             bool
	isFrozen             bool
}

func (r *Reader) reserveConfig(ctx context.Context, h *chain.Handle, asset common.Address) (*reserveConfiguration, error) {
	out, err := r.call(ctx, h, h.Contracts.DataProvider, dataProvider, "getReserveConfigurationData", asset)
	if err != nil {
		return nil, err
	}
	if len(out) != 10 {
		return nil, fmt.Errorf("getReserveConfigurationData: unexpected %d outputs", len(out))
	}
	decimals, _ := out[0].(*big.Int)
	cfg := &reserveConfiguration{}
	if decimals != nil {
		cfg.decimals = decimals.Uint64()
	}
	cfg.ltv, _ = out[1].(*big.Int)
	cfg.liquidationThreshold, _ = out[2].(*big.Int)
	cfg.usageAsCollateral, _ = out[5].(bool)
	cfg.borrowingEnabled, _ = out[6].(bool)
	cfg.isActive, _ = out[8].(bool)
	cfg.isFrozen, _ = out[9].(bool)
	return cfg, nil
}

func (r *Reader) poolAddress(ctx context.Context, h *chain.Handle) (common.Address, error) {
	out, err := r.call(ctx, h, h.Contracts.PoolAddressesProvider, addressesProvider, "getPool")
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok || addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("getPool: no active pool")
	}
	return addr, nil
}

func (r *Reader) reserveTokens(ctx context.Context, h *chain.Handle) ([]reserveToken, error) {
	out, err := r.call(ctx, h, h.Contracts.DataProvider, dataProvider, "getAllReservesTokens")
	if err != nil {
		return nil, err
	}
	tokens := *abi.ConvertType(out[0], new([]reserveToken)).(*[]reserveToken)
	return tokens, nil
}

// call packs, executes and unpacks a single eth_call. Transport failures drop the
// cached handle so the next read resolves a fresh endpoint.
func (r *Reader) call(ctx context.Context, h *chain.Handle, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	if err := r.wait(ctx, h.NetworkID); err != nil {
		return nil, err
	}
	data, err := h.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		r.source.Invalidate(h.NetworkID)
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := contract.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("decode %s: empty result", method)
	}
	return out, nil
}

func (r *Reader) wait(ctx context.Context, networkID uint64) error {
	p, ok := r.pacing[networkID]
	if !ok || p.RPS <= 0 {
		return nil
	}
	r.mu.Lock()
	lim, ok := r.limiters[networkID]
	if !ok {
		burst := p.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(p.RPS), burst)
		r.limiters[networkID] = lim
	}
	r.mu.Unlock()
	return lim.Wait(ctx)
}

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

func isZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}
