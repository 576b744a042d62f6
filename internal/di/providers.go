package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	drepo "LendPulse/internal/domain/repository"
	"LendPulse/internal/handler/api"
	"LendPulse/internal/middleware"
	internalrepo "LendPulse/internal/repository"
	"LendPulse/internal/service/aave"
	icache "LendPulse/internal/service/cache"
	"LendPulse/internal/service/chain"
	"LendPulse/internal/service/ratelimit"
	"LendPulse/internal/usecase"
	pkgcache "LendPulse/pkg/cache"
	pkgch "LendPulse/pkg/clickhouse"
	"LendPulse/pkg/config"
	xhttp "LendPulse/pkg/http"
	pkgkafka "LendPulse/pkg/kafka"
	"LendPulse/pkg/logger"
	"LendPulse/pkg/metrics"
	"LendPulse/pkg/queue"
	"LendPulse/pkg/server"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvidePrometheusRegistry creates the registry served on the metrics path.
func ProvidePrometheusRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) drepo.Metrics {
	return metrics.New(reg)
}

// ProvideRedisClient connects to Redis. It returns nil when Redis is disabled.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.Timeout,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Redis.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// ProvideCacheStore builds the memory tier and, when persistence is on, a
// Redis tier behind it.
func ProvideCacheStore(cfg *config.Config, rdb *redis.Client) pkgcache.Store {
	mem := pkgcache.NewMemoryCache(
		pkgcache.WithMemoryMaxSize(cfg.Cache.MaxEntries),
		pkgcache.WithMemoryCleanup(cfg.Cache.CleanupInterval),
	)
	if !cfg.Cache.Persist || rdb == nil {
		return mem
	}
	durable := pkgcache.NewRedisCache(rdb, pkgcache.WithRedisPrefix(cfg.Redis.Prefix+":cache"))
	return pkgcache.NewLayeredCache(mem, durable)
}

// ProvideCacheLayer wraps the store with typed access and de-duplication.
func ProvideCacheLayer(store pkgcache.Store, l *logger.Logger, m drepo.Metrics) *icache.Layer {
	return icache.NewLayer(store, l, m)
}

// ProvideResolver creates the endpoint resolver over configured networks.
func ProvideResolver(cfg *config.Config, l *logger.Logger, m drepo.Metrics) (*chain.Resolver, error) {
	sets, err := chain.EndpointSetsFromConfig(cfg.Networks)
	if err != nil {
		return nil, fmt.Errorf("endpoint sets: %w", err)
	}
	r := chain.NewResolver(l, m, chain.EthDialer{}, sets)
	for _, n := range cfg.Networks {
		r.SetDefaultOptions(n.ID, chain.ResolveOptions{
			Timeout:                n.Timeout,
			MaxAttemptsPerEndpoint: n.MaxAttemptsPerEndpoint,
		})
	}
	return r, nil
}

// ProvideProtocolReader creates the Aave reader with per-network pacing.
func ProvideProtocolReader(cfg *config.Config, l *logger.Logger, m drepo.Metrics, r *chain.Resolver) drepo.ProtocolReader {
	pacing := make(map[uint64]aave.Pacing, len(cfg.Networks))
	for _, n := range cfg.Networks {
		pacing[n.ID] = aave.Pacing{RPS: n.RPS, Burst: n.Burst}
	}
	return aave.NewReader(l, m, r, pacing)
}

// ProvideAccountRegistry tracks requested accounts in Redis, or in process
// when Redis is disabled.
func ProvideAccountRegistry(cfg *config.Config, rdb *redis.Client) drepo.AccountRegistry {
	if rdb == nil {
		return internalrepo.NewMemoryAccountRegistry()
	}
	return internalrepo.NewRedisAccountRegistry(rdb, cfg.Redis.Prefix)
}

// ProvideKafkaProducer creates a Kafka producer. It returns nil when the
// Kafka sink is disabled.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	kc := cfg.Sinks.Kafka
	if !kc.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(kc.Brokers),
		pkgkafka.WithCompression(kc.Compression),
		pkgkafka.WithRequiredAcks(-1),
		pkgkafka.WithBatchTimeout(100*time.Millisecond),
		pkgkafka.WithAsync(true),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithMetrics(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaPublisher wraps the producer. It returns nil without a producer.
func ProvideKafkaPublisher(cfg *config.Config, producer *pkgkafka.Producer) *internalrepo.KafkaPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Sinks.Kafka.JobTopic, cfg.Sinks.Kafka.HealthTopic)
}

// ProvideClickHouseClient connects to ClickHouse and creates the snapshot
// table. It returns nil when the ClickHouse sink is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	cc := cfg.Sinks.ClickHouse
	if !cc.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddrs(net.JoinHostPort(cc.Host, strconv.Itoa(cc.Port))),
		pkgch.WithDatabase(cc.Database),
		pkgch.WithCredentials(cc.User, cc.Password),
		pkgch.WithTimeouts(cc.Timeout, cc.Timeout),
		pkgch.WithAsyncInsert(true, false),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, internalrepo.SnapshotSchema(snapshotTable(cfg))); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

func snapshotTable(cfg *config.Config) string {
	return cfg.Sinks.ClickHouse.Database + ".health_snapshots"
}

// ProvideSnapshotSink fans snapshots out to every enabled sink. It returns
// nil when none is enabled.
func ProvideSnapshotSink(cfg *config.Config, ch *pkgch.Client, pub *internalrepo.KafkaPublisher) drepo.SnapshotSink {
	var sinks internalrepo.MultiSink
	if ch != nil {
		sinks = append(sinks, internalrepo.NewClickHouseSnapshotSink(ch.DB(), snapshotTable(cfg)))
	}
	if pub != nil {
		sinks = append(sinks, pub)
	}
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	default:
		return sinks
	}
}

// ProvideQueueBroker stores jobs in Redis, or in process when Redis is disabled.
func ProvideQueueBroker(cfg *config.Config, rdb *redis.Client) queue.Broker {
	if rdb == nil {
		return queue.NewMemoryBroker()
	}
	return queue.NewRedisBroker(rdb, queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
}

// ProvideQueueManager creates the manager and applies per-queue settings.
func ProvideQueueManager(
	cfg *config.Config,
	l *logger.Logger,
	broker queue.Broker,
	m drepo.Metrics,
	pub *internalrepo.KafkaPublisher,
) *queue.Manager {
	opts := []queue.ManagerOption{queue.WithObserver(m)}
	if pub != nil {
		opts = append(opts, queue.WithEventPublisher(pub))
	}
	mgr := queue.NewManager(l, broker, opts...)
	mgr.Configure(usecase.QueueHealth, queueConfig(cfg.Queues.Health))
	mgr.Configure(usecase.QueueMarket, queueConfig(cfg.Queues.Market))
	mgr.Configure(usecase.QueueMaintenance, queueConfig(cfg.Queues.Maintenance))
	return mgr
}

func queueConfig(c config.QueueConfig) queue.QueueConfig {
	return queue.QueueConfig{
		Concurrency:   c.Concurrency,
		MaxAttempts:   c.MaxAttempts,
		Backoff:       queue.Backoff{Type: queue.BackoffType(c.Backoff), Delay: c.BackoffDelay},
		KeepCompleted: c.KeepCompleted,
		KeepFailed:    c.KeepFailed,
		Lease:         c.Lease,
		PollInterval:  c.PollInterval,
	}
}

// ProvideRefresher creates the background processors and registers them
// on the manager.
func ProvideRefresher(
	cfg *config.Config,
	l *logger.Logger,
	reader drepo.ProtocolReader,
	layer *icache.Layer,
	registry drepo.AccountRegistry,
	sink drepo.SnapshotSink,
	mgr *queue.Manager,
) *usecase.Refresher {
	networks := make([]uint64, 0, len(cfg.Networks))
	watchlist := make(map[uint64][]string, len(cfg.Networks))
	for _, n := range cfg.Networks {
		networks = append(networks, n.ID)
		if len(n.Watchlist) > 0 {
			watchlist[n.ID] = n.Watchlist
		}
	}
	r := usecase.NewRefresher(l, reader, layer, registry, sink, mgr, usecase.RefresherConfig{
		TTL:       ttls(cfg),
		Networks:  networks,
		Watchlist: watchlist,
		Stagger:   cfg.Schedules.FanOutStagger,
		MaxPerRun: cfg.Registry.MaxPerRun,
		Retention: cfg.Registry.Retention,
	})
	for name, procs := range r.Processors() {
		mgr.Register(name, procs...)
	}
	return r
}

func ttls(cfg *config.Config) usecase.TTLs {
	return usecase.TTLs{
		Account:  cfg.Cache.TTL.Account,
		Health:   cfg.Cache.TTL.Health,
		Market:   cfg.Cache.TTL.Market,
		Position: cfg.Cache.TTL.Position,
	}
}

// ProvideAccountService creates the caller-facing read path.
func ProvideAccountService(
	cfg *config.Config,
	l *logger.Logger,
	reader drepo.ProtocolReader,
	layer *icache.Layer,
	registry drepo.AccountRegistry,
	mgr *queue.Manager,
) *usecase.AccountService {
	networks := make([]uint64, 0, len(cfg.Networks))
	for _, n := range cfg.Networks {
		networks = append(networks, n.ID)
	}
	return usecase.NewAccountService(l, reader, layer, registry, mgr, ttls(cfg), networks)
}

// ProvideLimiter counts requests in Redis, or in process for the memory backend.
func ProvideLimiter(cfg *config.Config, rdb *redis.Client) ratelimit.Limiter {
	if cfg.RateLimit.Backend == "memory" || rdb == nil {
		return ratelimit.NewMemory()
	}
	return ratelimit.NewRedis(rdb, cfg.Redis.Prefix)
}

// ProvideRateLimitMiddleware resolves per-action rules from config.
func ProvideRateLimitMiddleware(cfg *config.Config, lim ratelimit.Limiter, m drepo.Metrics, l *logger.Logger) *middleware.RateLimiter {
	return middleware.NewRateLimiter(lim, func(action string) middleware.Rule {
		r := cfg.Rule(action)
		return middleware.Rule{Limit: r.Limit, Window: r.Window}
	}, m, l)
}

// ProvideHTTPHandler creates the API routes.
func ProvideHTTPHandler(
	l *logger.Logger,
	svc *usecase.AccountService,
	mgr *queue.Manager,
	rl *middleware.RateLimiter,
) xhttp.Handler {
	return api.NewAccountsHandler(l, svc, mgr, rl)
}

// ProvideHTTPServer creates the Echo server with metrics and readiness checks.
func ProvideHTTPServer(
	cfg *config.Config,
	l *logger.Logger,
	h xhttp.Handler,
	reg *prometheus.Registry,
	rdb *redis.Client,
	ch *pkgch.Client,
) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, reg, reg))
	}
	if rdb != nil {
		opts = append(opts, xhttp.WithReadiness("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}
	if ch != nil {
		opts = append(opts, xhttp.WithReadiness("clickhouse", ch.Health))
	}
	return xhttp.NewServer(l, h, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	httpServer *xhttp.Server,
	mgr *queue.Manager,
	_ *usecase.Refresher,
	resolver *chain.Resolver,
	store pkgcache.Store,
	sink drepo.SnapshotSink,
	ch *pkgch.Client,
	rdb *redis.Client,
) *server.App {
	comp := server.Components{
		HTTP:     httpServer,
		Queues:   mgr,
		Resolver: resolver,
		Closers:  []server.NamedCloser{{Name: "cache", Closer: store}},
	}
	// The sink closes the Kafka producer through the publisher.
	if sink != nil {
		comp.Closers = append(comp.Closers, server.NamedCloser{Name: "snapshot sink", Closer: sink})
	}
	if ch != nil {
		comp.Closers = append(comp.Closers, server.NamedCloser{Name: "clickhouse", Closer: ch})
	}
	if rdb != nil {
		comp.Closers = append(comp.Closers, server.NamedCloser{Name: "redis", Closer: rdb})
	}
	return server.New(cfg, l, comp)
}
