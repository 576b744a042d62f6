package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	drepo "LendPulse/internal/domain/repository"
	"LendPulse/pkg/logger"
)

// ResolveOptions bounds how long and how often each endpoint is tried.
type ResolveOptions struct {
	Timeout                time.Duration
	MaxAttemptsPerEndpoint int
}

func (o ResolveOptions) normalize() ResolveOptions {
	if o.Timeout <= 0 {
		o.Timeout = 8 * time.Second
	}
	if o.MaxAttemptsPerEndpoint <= 0 {
		o.MaxAttemptsPerEndpoint = 1
	}
	return o
}

// Resolver picks a working endpoint per network and caches the validated handle.
type Resolver struct {
	logger  *logger.Logger
	metrics drepo.Metrics
	dialer  Dialer
	sets    map[uint64]EndpointSet
	order   []uint64
	opts    map[uint64]ResolveOptions

	group  singleflight.Group
	mu     sync.Mutex
	cached map[uint64]*Handle
	cursor map[uint64]int
}

// NewResolver creates a resolver over static endpoint sets.
func NewResolver(lgr *logger.Logger, m drepo.Metrics, dialer Dialer, sets []EndpointSet) *Resolver {
	if dialer == nil {
		dialer = EthDialer{}
	}
	if m == nil {
		m = drepo.NopMetrics{}
	}
	r := &Resolver{
		logger:  lgr,
		metrics: m,
		dialer:  dialer,
		sets:    make(map[uint64]EndpointSet, len(sets)),
		opts:    make(map[uint64]ResolveOptions, len(sets)),
		cached:  make(map[uint64]*Handle),
		cursor:  make(map[uint64]int),
	}
	for _, s := range sets {
		r.sets[s.NetworkID] = s
		r.order = append(r.order, s.NetworkID)
	}
	return r
}

// SetDefaultOptions sets the options used by Get for a network.
func (r *Resolver) SetDefaultOptions(networkID uint64, opts ResolveOptions) {
	r.mu.Lock()
	r.opts[networkID] = opts
	r.mu.Unlock()
}

// Networks returns configured network ids in configuration order.
func (r *Resolver) Networks() []uint64 {
	out := make([]uint64, len(r.order))
	copy(out, r.order)
	return out
}

// Lookup returns the endpoint set for a network.
func (r *Resolver) Lookup(networkID uint64) (EndpointSet, bool) {
	s, ok := r.sets[networkID]
	return s, ok
}

// Get resolves with the network's default options.
func (r *Resolver) Get(ctx context.Context, networkID uint64) (*Handle, error) {
	r.mu.Lock()
	opts := r.opts[networkID]
	r.mu.Unlock()
	return r.Resolve(ctx, networkID, opts)
}

// Resolve returns a cached handle or walks the endpoint list until one validates.
func (r *Resolver) Resolve(ctx context.Context, networkID uint64, opts ResolveOptions) (*Handle, error) {
	set, ok := r.sets[networkID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNetwork, networkID)
	}
	if len(set.Endpoints) == 0 {
		return nil, &ProviderError{NetworkID: networkID, Last: ErrNoEndpoints}
	}

	r.mu.Lock()
	if h, ok := r.cached[networkID]; ok {
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(strconv.FormatUint(networkID, 10), func() (interface{}, error) {
		r.mu.Lock()
		if h, ok := r.cached[networkID]; ok {
			r.mu.Unlock()
			return h, nil
		}
		r.mu.Unlock()

		h, err := r.walk(ctx, set, opts.normalize())
		if err != nil {
			r.metrics.RecordResolve(set.Name, "exhausted")
			return nil, err
		}
		r.mu.Lock()
		r.cached[networkID] = h
		r.mu.Unlock()
		r.metrics.RecordResolve(set.Name, "ok")
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

func (r *Resolver) walk(ctx context.Context, set EndpointSet, opts ResolveOptions) (*Handle, error) {
	n := len(set.Endpoints)
	start := 0
	if set.Strategy == RoundRobin {
		r.mu.Lock()
		start = r.cursor[set.NetworkID] % n
		r.cursor[set.NetworkID] = (start + 1) % n
		r.mu.Unlock()
	}

	var (
		lastErr  error
		attempts int
	)
	for i := 0; i < n; i++ {
		endpoint := set.Endpoints[(start+i)%n]
		for attempt := 1; attempt <= opts.MaxAttemptsPerEndpoint; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, &ProviderError{NetworkID: set.NetworkID, Attempts: attempts, Last: err}
			}
			attempts++
			client, err := r.validate(ctx, set.NetworkID, endpoint, opts.Timeout)
			if err == nil {
				r.logger.Debug("endpoint resolved",
					logger.Uint64("network", set.NetworkID),
					logger.String("endpoint", endpoint),
					logger.Int("attempts", attempts))
				return &Handle{Client: client, NetworkID: set.NetworkID, Endpoint: endpoint, Contracts: set.Contracts}, nil
			}
			lastErr = fmt.Errorf("%s: %w", endpoint, err)
			r.logger.Warn("endpoint failed",
				logger.Uint64("network", set.NetworkID),
				logger.String("endpoint", endpoint),
				logger.Int("attempt", attempt),
				logger.Error(err))
			r.metrics.RecordResolve(set.Name, "failover")
			if errors.Is(err, ErrChainIDMismatch) {
				break
			}
		}
	}
	return nil, &ProviderError{NetworkID: set.NetworkID, Attempts: attempts, Last: lastErr}
}

func (r *Resolver) validate(ctx context.Context, networkID uint64, endpoint string, timeout time.Duration) (Client, error) {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := r.dialer.Dial(dctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	id, err := client.ChainID(dctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}
	if !id.IsUint64() || id.Uint64() != networkID {
		client.Close()
		return nil, fmt.Errorf("%w: endpoint reports %s, want %d", ErrChainIDMismatch, id, networkID)
	}
	return client, nil
}

// Invalidate drops the cached handle for a network so the next call re-resolves.
func (r *Resolver) Invalidate(networkID uint64) {
	r.mu.Lock()
	h, ok := r.cached[networkID]
	delete(r.cached, networkID)
	r.mu.Unlock()
	if ok {
		h.Close()
		r.logger.Info("endpoint invalidated",
			logger.Uint64("network", networkID),
			logger.String("endpoint", h.Endpoint))
	}
}

// Close closes all cached clients.
func (r *Resolver) Close() {
	r.mu.Lock()
	cached := r.cached
	r.cached = make(map[uint64]*Handle)
	r.mu.Unlock()
	for _, h := range cached {
		h.Close()
	}
}
