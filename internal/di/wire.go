//go:build wireinject
// +build wireinject

package di

import (
	"SignalRelay/pkg/config"
	"SignalRelay/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Metrics
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideTokenStore,
		ProvideHTTPClient,

		// Session and remote access
		ProvideSessionManager,
		ProvideGateway,
		ProvideSignalSource,
		ProvideEventStream,

		// Feed state
		ProvideFeedCache,
		ProvidePriceBook,

		// Use cases
		ProvideArchiveStorage,
		ProvideSignalArchiver,
		ProvideFeedCollector,

		// HTTP surface and application server
		ProvideFeedHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
