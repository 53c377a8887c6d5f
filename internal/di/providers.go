package di

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SignalRelay/internal/domain/repository"
	"SignalRelay/internal/feed"
	"SignalRelay/internal/gateway"
	"SignalRelay/internal/handler/api"
	mid "SignalRelay/internal/middleware"
	"SignalRelay/internal/realtime"
	internalrepo "SignalRelay/internal/repository"
	"SignalRelay/internal/session"
	"SignalRelay/internal/usecase"
	"SignalRelay/pkg/cache"
	pkgch "SignalRelay/pkg/clickhouse"
	"SignalRelay/pkg/config"
	xhttp "SignalRelay/pkg/http"
	pkgkafka "SignalRelay/pkg/kafka"
	applogger "SignalRelay/pkg/logger"
	"SignalRelay/pkg/metrics"
	"SignalRelay/pkg/server"
)

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideLogger creates the application logger. When a Kafka producer is
// available, aggregated logs are shipped to a logs topic as well.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	format := "console"
	if cfg.Environment == "production" {
		format = "json"
	}
	l, err := applogger.New(&applogger.Config{Level: "info", Format: format, Output: "stdout"})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	if producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			Topic:     cfg.Kafka.Topic + ".logs",
			Publisher: &kafkaLogPublisher{producer: producer},
		})
	}
	return l, nil
}

// kafkaLogPublisher adapts the Kafka producer to the log collector.
type kafkaLogPublisher struct {
	producer *pkgkafka.Producer
}

func (p *kafkaLogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

// ProvideTokenStore creates the session token store per configuration.
func ProvideTokenStore(cfg *config.Config) (cache.Service, error) {
	switch cfg.Session.Storage {
	case "redis":
		return newRedisCache(cfg)
	case "layered":
		rc, err := newRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		return cache.NewLayeredCache(rc), nil
	default:
		return cache.NewMemoryCache(), nil
	}
}

func newRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideHTTPClient creates the shared HTTP client for remote calls.
func ProvideHTTPClient(cfg *config.Config) *xhttp.Client {
	return xhttp.NewClient(xhttp.WithTimeout(cfg.API.Timeout))
}

// ProvideSessionManager creates the session manager.
func ProvideSessionManager(client *xhttp.Client, cfg *config.Config, store cache.Service, logger *applogger.Logger) *session.Manager {
	return session.NewManager(client, cfg.API.BaseURL, store, session.WithLogger(logger))
}

// ProvideGateway creates the REST gateway. The market overview read is
// backed by a small in-memory response cache.
func ProvideGateway(client *xhttp.Client, cfg *config.Config, sess *session.Manager, m repository.Metrics, logger *applogger.Logger) *gateway.Gateway {
	return gateway.New(client, cfg.API.BaseURL, sess,
		gateway.WithRetryPolicy(gateway.RetryPolicy{MaxAttempts: 2, Delay: cfg.API.RetryDelay}),
		gateway.WithMetrics(m),
		gateway.WithLogger(logger),
		gateway.WithResponseCache(cache.NewMemoryCache()),
	)
}

// ProvideSignalSource exposes the gateway as the snapshot source.
func ProvideSignalSource(gw *gateway.Gateway) repository.SignalSource {
	return gw
}

// ProvideEventStream creates the realtime channel.
func ProvideEventStream(cfg *config.Config, sess *session.Manager, m repository.Metrics, logger *applogger.Logger) repository.EventStream {
	return realtime.NewChannel(wsURL(cfg.API.BaseURL)+cfg.Realtime.Path,
		realtime.WithAuth(sess),
		realtime.WithPingInterval(cfg.Realtime.PingInterval),
		realtime.WithBackoff(realtime.Backoff{Min: cfg.Realtime.BackoffMin, Max: cfg.Realtime.BackoffMax}),
		realtime.WithMaxAttempts(cfg.Realtime.MaxAttempts),
		realtime.WithMaxElapsed(cfg.Realtime.MaxElapsed),
		realtime.WithLogger(logger),
		realtime.WithMetrics(m),
	)
}

// wsURL maps the REST base URL onto its websocket counterpart.
func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

// ProvideFeedCache creates the bounded signal cache.
func ProvideFeedCache(cfg *config.Config) *feed.Cache {
	return feed.NewCache(cfg.Feed.Capacity)
}

// ProvidePriceBook creates the last-price book.
func ProvidePriceBook(m repository.Metrics) *feed.PriceBook {
	return feed.NewPriceBook(m)
}

// ProvideClickHouseClient creates a ClickHouse client when the archive
// backend needs one; nil otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Archive.Backend != usecase.BackendClickHouse {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer when the archive backend
// needs one; nil otherwise.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if cfg.Archive.Backend != usecase.BackendKafka {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideArchiveStorage creates and initializes the archive store when
// the ClickHouse backend is configured; nil otherwise.
func ProvideArchiveStorage(cfg *config.Config, chClient *pkgch.Client) (repository.Storage, error) {
	if cfg.Archive.Backend != usecase.BackendClickHouse {
		return nil, nil
	}
	store := internalrepo.NewClickHouseStorage(chClient.DB(), cfg.ClickHouse.Database+".signals")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("archive storage: %w", err)
	}
	return store, nil
}

// ProvideSignalArchiver creates the archive router with whichever
// backend is configured.
func ProvideSignalArchiver(cfg *config.Config, producer *pkgkafka.Producer, store repository.Storage, m repository.Metrics) *usecase.SignalArchiver {
	var pub repository.Publisher
	if cfg.Archive.Backend == usecase.BackendKafka {
		pub = internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic)
	}
	return usecase.NewSignalArchiver(pub, store, m, cfg.Archive.Backend)
}

// ProvideFeedCollector creates the collector with its archive pipeline.
func ProvideFeedCollector(
	source repository.SignalSource,
	stream repository.EventStream,
	fc *feed.Cache,
	prices *feed.PriceBook,
	archiver *usecase.SignalArchiver,
	m repository.Metrics,
	logger *applogger.Logger,
	cfg *config.Config,
) *usecase.FeedCollector {
	var pipe *mid.ArchivePipeline
	if archiver.Enabled() {
		pipe = mid.NewArchivePipeline(archiver, m, mid.WithBufferSize(2000))
	}
	return usecase.NewFeedCollector(source, stream, fc, prices, pipe, archiver, m, logger,
		cfg.Feed.SnapshotLimit, cfg.Realtime.PriceSymbols)
}

// ProvideFeedHandler creates the local HTTP handler.
func ProvideFeedHandler(
	logger *applogger.Logger,
	collector *usecase.FeedCollector,
	fc *feed.Cache,
	prices *feed.PriceBook,
	gw *gateway.Gateway,
	sess *session.Manager,
	store repository.Storage,
) *api.FeedHandler {
	return api.NewFeedHandler(logger, collector, fc, prices, gw, sess, store)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	collector *usecase.FeedCollector,
	archiver *usecase.SignalArchiver,
	chClient *pkgch.Client,
	handler *api.FeedHandler,
	sess *session.Manager,
	logger *applogger.Logger,
) *server.App {
	return server.New(cfg, collector, archiver, chClient, handler, sess, logger)
}
