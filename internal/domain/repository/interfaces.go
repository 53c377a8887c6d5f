package repository

import (
	"context"
	"net/http"
	"time"

	"SignalRelay/internal/domain/models"
)

// SignalSource provides point-in-time snapshots of the live signal feed.
type SignalSource interface {
	FetchSignals(ctx context.Context, limit int) ([]*models.Signal, error)
}

// EventStream is a persistent connection delivering incremental push
// events. Handlers receive the raw event body in transport order.
type EventStream interface {
	Connect(ctx context.Context) error
	Disconnect()
	State() models.ConnState
	Subscribe(event string, handler func(data []byte)) (unsubscribe func())
	SubscribeState(handler func(models.ConnState)) (unsubscribe func())
	ScopePrices(subscribe bool, symbols []string) error
}

// Authenticator owns the credential attached to outbound requests.
type Authenticator interface {
	AttachAuth(req *http.Request)
	OnAuthFailure(ctx context.Context)
}

// Publisher mirrors merged signals to a message broker.
type Publisher interface {
	Publish(ctx context.Context, s *models.Signal) error
	PublishBatch(ctx context.Context, signals []*models.Signal) error
	Close() error
}

// Storage archives merged signals durably and reads them back for
// history queries.
type Storage interface {
	Init(ctx context.Context) error
	Store(ctx context.Context, s *models.Signal) error
	StoreBatch(ctx context.Context, signals []*models.Signal) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Signal, error)
	Health(ctx context.Context) error
	Close() error
}

type Metrics interface {
	RecordSignal(source, symbol string)
	RecordArchived(backend, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordConnState(state models.ConnState)
}
