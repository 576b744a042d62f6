package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"LendPulse/internal/domain/models"
	drepo "LendPulse/internal/domain/repository"
	"LendPulse/internal/service/cache"
	"LendPulse/pkg/logger"
	"LendPulse/pkg/queue"
)

// Queue names.
const (
	QueueHealth      = "health-updates"
	QueueMarket      = "market-data"
	QueueMaintenance = "maintenance"
)

// Job names.
const (
	JobHealthUpdate     = "health-update"
	JobBulkHealthUpdate = "bulk-health-update"
	JobMarketData       = "market-data"
	JobBulkMarketData   = "bulk-market-data"
	JobCacheCleanup     = "cache-cleanup"
)

// Refresher holds everything the background processors share.
type Refresher struct {
	logger    *logger.Logger
	reader    drepo.ProtocolReader
	layer     *cache.Layer
	registry  drepo.AccountRegistry
	sink      drepo.SnapshotSink
	jobs      Enqueuer
	ttl       TTLs
	networks  []uint64
	watchlist map[uint64][]string
	stagger   time.Duration
	maxPerRun int
	retention time.Duration
	now       func() time.Time
}

// RefresherConfig carries the fan-out and retention settings.
type RefresherConfig struct {
	TTL       TTLs
	Networks  []uint64
	Watchlist map[uint64][]string
	Stagger   time.Duration
	MaxPerRun int
	Retention time.Duration
}

// NewRefresher creates the processor backend. sink may be nil.
func NewRefresher(
	lgr *logger.Logger,
	reader drepo.ProtocolReader,
	layer *cache.Layer,
	registry drepo.AccountRegistry,
	sink drepo.SnapshotSink,
	jobs Enqueuer,
	cfg RefresherConfig,
) *Refresher {
	if cfg.MaxPerRun <= 0 {
		cfg.MaxPerRun = 500
	}
	return &Refresher{
		logger:    lgr,
		reader:    reader,
		layer:     layer,
		registry:  registry,
		sink:      sink,
		jobs:      jobs,
		ttl:       cfg.TTL,
		networks:  cfg.Networks,
		watchlist: cfg.Watchlist,
		stagger:   cfg.Stagger,
		maxPerRun: cfg.MaxPerRun,
		retention: cfg.Retention,
		now:       time.Now,
	}
}

// SetJobs attaches the enqueuer once the queue manager exists.
func (r *Refresher) SetJobs(jobs Enqueuer) { r.jobs = jobs }

// UpdateHealth refreshes the health snapshot of one account. When the read
// fails the last cached snapshot is returned instead of an error.
func (r *Refresher) UpdateHealth(ctx context.Context, p models.HealthUpdatePayload) (*models.HealthSnapshot, error) {
	addr, err := normalizeAddress(p.UserAddress)
	if err != nil {
		return nil, err
	}
	key := cache.HealthKey(addr, p.NetworkID)
	build := func(ctx context.Context) (*models.HealthSnapshot, error) {
		return r.buildSnapshot(ctx, addr, p.NetworkID)
	}

	var snap *models.HealthSnapshot
	if p.ForceUpdate {
		snap, err = build(ctx)
		if err == nil {
			r.layer.Set(ctx, key, snap, r.ttl.Health)
		}
	} else {
		var res cache.Result[models.HealthSnapshot]
		res, err = cache.Fetch(ctx, r.layer, key, r.ttl.Health, build)
		snap = res.Value
	}
	if err == nil {
		return snap, nil
	}

	var cached models.HealthSnapshot
	if _, ok := r.layer.GetInto(ctx, key, &cached); ok {
		r.logger.Warn("health read failed, using cached snapshot",
			logger.String("address", addr), logger.Uint64("network", p.NetworkID),
			logger.Error(err))
		return &cached, nil
	}
	return nil, fmt.Errorf("health update %s@%d: %w", addr, p.NetworkID, err)
}

func (r *Refresher) buildSnapshot(ctx context.Context, addr string, networkID uint64) (*models.HealthSnapshot, error) {
	state, err := r.reader.GetAccountState(ctx, addr, networkID)
	if err != nil {
		return nil, err
	}
	positions, err := r.reader.GetUserPositions(ctx, addr, networkID)
	if err != nil {
		// Metrics only lose the diversification bonus without positions.
		r.logger.Warn("positions read failed",
			logger.String("address", addr), logger.Uint64("network", networkID), logger.Error(err))
		positions = nil
	} else {
		r.layer.Set(ctx, cache.PositionsKey(addr, networkID), positions, r.ttl.Position)
	}
	r.layer.Set(ctx, cache.AccountKey(addr, networkID), state, r.ttl.Account)

	snap := &models.HealthSnapshot{
		Account:   *state,
		Positions: positions,
		Metrics:   ComputeMetrics(state, positions),
		UpdatedAt: r.now(),
	}
	if r.sink != nil {
		if err := r.sink.WriteSnapshot(ctx, snap); err != nil {
			r.logger.Warn("snapshot sink write failed", logger.String("address", addr), logger.Error(err))
		}
	}
	return snap, nil
}

// UpdateMarket refreshes market data of one network with the same cached
// fallback as UpdateHealth.
func (r *Refresher) UpdateMarket(ctx context.Context, p models.MarketDataPayload) (*models.MarketSnapshot, error) {
	if p.DataType == "" {
		p.DataType = models.DataTypeAll
	}
	if !p.DataType.Valid() {
		return nil, fmt.Errorf("%w: data type %q", ErrInvalidRequest, p.DataType)
	}
	key := cache.MarketKey(p.NetworkID, string(p.DataType))
	read := func(ctx context.Context) (*models.MarketSnapshot, error) {
		return readMarket(ctx, r.reader, p.NetworkID, p.DataType)
	}

	var (
		snap *models.MarketSnapshot
		err  error
	)
	if p.ForceUpdate {
		snap, err = read(ctx)
		if err == nil {
			r.layer.Set(ctx, key, snap, r.ttl.Market)
		}
	} else {
		var res cache.Result[models.MarketSnapshot]
		res, err = cache.Fetch(ctx, r.layer, key, r.ttl.Market, read)
		snap = res.Value
	}
	if err == nil {
		return snap, nil
	}

	var cached models.MarketSnapshot
	if _, ok := r.layer.GetInto(ctx, key, &cached); ok {
		r.logger.Warn("market read failed, using cached data",
			logger.Uint64("network", p.NetworkID), logger.String("data_type", string(p.DataType)),
			logger.Error(err))
		return &cached, nil
	}
	return nil, fmt.Errorf("market data %d/%s: %w", p.NetworkID, p.DataType, err)
}

// readMarket reads reserve rates; apys and rates drop inactive reserves.
func readMarket(ctx context.Context, reader drepo.ProtocolReader, networkID uint64, dt models.DataType) (*models.MarketSnapshot, error) {
	rates, err := reader.GetReserveRates(ctx, networkID)
	if err != nil {
		return nil, err
	}
	if dt == models.DataTypeAPYs || dt == models.DataTypeRates {
		active := rates[:0:0]
		for _, rr := range rates {
			if rr.IsActive {
				active = append(active, rr)
			}
		}
		rates = active
	}
	return &models.MarketSnapshot{
		NetworkID: networkID,
		DataType:  dt,
		Reserves:  rates,
		FetchedAt: time.Now(),
	}, nil
}

// FanOutHealth enqueues one forced health update per active account, each
// delayed by its index times the stagger.
func (r *Refresher) FanOutHealth(ctx context.Context, parentID string, p models.BulkPayload) (int, error) {
	if r.jobs == nil {
		return 0, fmt.Errorf("background jobs disabled")
	}
	n := 0
	for _, networkID := range r.targetNetworks(p.NetworkID) {
		for _, addr := range r.activeAccounts(ctx, networkID) {
			_, err := r.jobs.Enqueue(ctx, QueueHealth, JobHealthUpdate,
				models.HealthUpdatePayload{UserAddress: addr, NetworkID: networkID, ForceUpdate: true},
				queue.WithDelay(time.Duration(n)*r.stagger),
				queue.WithJobID(fmt.Sprintf("%s:%d:%s", parentID, networkID, addr)),
				queue.WithPriority(10))
			if err != nil {
				return n, fmt.Errorf("enqueue health update: %w", err)
			}
			n++
		}
	}
	return n, nil
}

// FanOutMarket enqueues one forced market-data job per network.
func (r *Refresher) FanOutMarket(ctx context.Context, parentID string, p models.BulkPayload) (int, error) {
	if r.jobs == nil {
		return 0, fmt.Errorf("background jobs disabled")
	}
	n := 0
	for _, networkID := range r.targetNetworks(p.NetworkID) {
		_, err := r.jobs.Enqueue(ctx, QueueMarket, JobMarketData,
			models.MarketDataPayload{NetworkID: networkID, DataType: models.DataTypeAll, ForceUpdate: true},
			queue.WithDelay(time.Duration(n)*r.stagger),
			queue.WithJobID(fmt.Sprintf("%s:%d", parentID, networkID)))
		if err != nil {
			return n, fmt.Errorf("enqueue market data: %w", err)
		}
		n++
	}
	return n, nil
}

func (r *Refresher) targetNetworks(id uint64) []uint64 {
	if id != 0 {
		return []uint64{id}
	}
	return r.networks
}

// activeAccounts merges the configured watchlist with recently read accounts.
func (r *Refresher) activeAccounts(ctx context.Context, networkID uint64) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(a string) {
		a = strings.ToLower(a)
		if _, dup := seen[a]; dup || len(out) >= r.maxPerRun {
			return
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	for _, a := range r.watchlist[networkID] {
		add(a)
	}
	if r.registry != nil {
		active, err := r.registry.Active(ctx, networkID, r.maxPerRun)
		if err != nil {
			r.logger.Warn("registry read failed", logger.Uint64("network", networkID), logger.Error(err))
		}
		for _, a := range active {
			add(a)
		}
	}
	return out
}

// Cleanup drops expired entries, deletes the requested patterns and prunes
// accounts not read within the retention window.
func (r *Refresher) Cleanup(ctx context.Context, p models.CleanupPayload) (int, error) {
	removed := r.layer.PurgeExpired()
	for _, pattern := range p.Patterns {
		removed += r.layer.DeleteByPattern(ctx, pattern)
	}
	if r.registry != nil && r.retention > 0 {
		pruned, err := r.registry.Prune(ctx, r.now().Add(-r.retention))
		if err != nil {
			return removed, fmt.Errorf("prune registry: %w", err)
		}
		if pruned > 0 {
			r.logger.Info("registry pruned", logger.Int64("accounts", pruned))
		}
	}
	return removed, nil
}

// Processors returns the queue processors keyed by queue name.
func (r *Refresher) Processors() map[string][]queue.Processor {
	return map[string][]queue.Processor{
		QueueHealth: {
			queue.ProcessorFunc{JobName: JobHealthUpdate, Fn: r.processHealth},
			queue.ProcessorFunc{JobName: JobBulkHealthUpdate, Fn: r.processBulkHealth},
		},
		QueueMarket: {
			queue.ProcessorFunc{JobName: JobMarketData, Fn: r.processMarket},
			queue.ProcessorFunc{JobName: JobBulkMarketData, Fn: r.processBulkMarket},
		},
		QueueMaintenance: {
			queue.ProcessorFunc{JobName: JobCacheCleanup, Fn: r.processCleanup},
		},
	}
}

func (r *Refresher) processHealth(ctx context.Context, job *queue.Job) error {
	p, err := queue.ParsePayload[models.HealthUpdatePayload](job)
	if err != nil {
		return err
	}
	_, err = r.UpdateHealth(ctx, *p)
	return err
}

func (r *Refresher) processMarket(ctx context.Context, job *queue.Job) error {
	p, err := queue.ParsePayload[models.MarketDataPayload](job)
	if err != nil {
		return err
	}
	_, err = r.UpdateMarket(ctx, *p)
	return err
}

func (r *Refresher) processBulkHealth(ctx context.Context, job *queue.Job) error {
	p, err := queue.ParsePayload[models.BulkPayload](job)
	if err != nil {
		return err
	}
	n, err := r.FanOutHealth(ctx, job.ID, *p)
	r.logger.Info("health fan-out", logger.String("job_id", job.ID), logger.Int("children", n))
	return err
}

func (r *Refresher) processBulkMarket(ctx context.Context, job *queue.Job) error {
	p, err := queue.ParsePayload[models.BulkPayload](job)
	if err != nil {
		return err
	}
	n, err := r.FanOutMarket(ctx, job.ID, *p)
	r.logger.Info("market fan-out", logger.String("job_id", job.ID), logger.Int("children", n))
	return err
}

func (r *Refresher) processCleanup(ctx context.Context, job *queue.Job) error {
	p, err := queue.ParsePayload[models.CleanupPayload](job)
	if err != nil {
		return err
	}
	n, err := r.Cleanup(ctx, *p)
	r.logger.Info("cache cleanup", logger.Int("removed", n))
	return err
}
