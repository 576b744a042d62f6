//go:build wireinject
// +build wireinject

package di

import (
	"LendPulse/pkg/config"
	"LendPulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvidePrometheusRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideRedisClient,
		ProvideKafkaProducer,
		ProvideClickHouseClient,

		// Repositories and sinks
		ProvideCacheStore,
		ProvideAccountRegistry,
		ProvideKafkaPublisher,
		ProvideSnapshotSink,

		// Chain access
		ProvideResolver,
		ProvideProtocolReader,
		ProvideCacheLayer,

		// Background jobs
		ProvideQueueBroker,
		ProvideQueueManager,
		ProvideRefresher,

		// Use cases and transport
		ProvideAccountService,
		ProvideLimiter,
		ProvideRateLimitMiddleware,
		ProvideHTTPHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
