package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalRelay/internal/domain/models"
	drepo "SignalRelay/internal/domain/repository"
	"SignalRelay/internal/feed"
	"SignalRelay/internal/gateway"
	"SignalRelay/internal/realtime"
	"SignalRelay/internal/session"
	"SignalRelay/internal/usecase"
	"SignalRelay/pkg/cache"
	xhttp "SignalRelay/pkg/http"
	applogger "SignalRelay/pkg/logger"
)

type nopMetrics struct{}

func (nopMetrics) RecordSignal(string, string)      {}
func (nopMetrics) RecordArchived(string, string)    {}
func (nopMetrics) RecordError(string)               {}
func (nopMetrics) RecordLastPrice(string, float64)  {}
func (nopMetrics) RecordLatency(string, float64)    {}
func (nopMetrics) RecordConnState(models.ConnState) {}

func fixture(t *testing.T, upstream string) (*echo.Echo, *feed.Cache) {
	return fixtureWithArchive(t, upstream, nil)
}

func fixtureWithArchive(t *testing.T, upstream string, archive drepo.Storage) (*echo.Echo, *feed.Cache) {
	t.Helper()

	logger, err := applogger.New(&applogger.Config{Level: "error", Format: "console", Output: "stderr"})
	require.NoError(t, err)

	client := xhttp.NewClient(xhttp.WithTimeout(2 * time.Second))
	sess := session.NewManager(client, upstream, cache.NewMemoryCache())
	gw := gateway.New(client, upstream, sess,
		gateway.WithRetryPolicy(gateway.RetryPolicy{MaxAttempts: 1, Delay: time.Millisecond}))

	fc := feed.NewCache(20)
	prices := feed.NewPriceBook(nil)
	stream := realtime.NewChannel("ws://127.0.0.1:1/ws")
	collector := usecase.NewFeedCollector(gw, stream, fc, prices, nil,
		usecase.NewSignalArchiver(nil, nil, nopMetrics{}, usecase.BackendNone),
		nopMetrics{}, nil, 20, nil)

	h := NewFeedHandler(logger, collector, fc, prices, gw, sess, archive)
	e := echo.New()
	h.RegisterRoutes(e)
	return e, fc
}

func doGet(e *echo.Echo, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestFeedEndpointNewestFirstBounded(t *testing.T) {
	e, fc := fixture(t, "http://127.0.0.1:1")

	now := time.Now()
	for i := 0; i < 5; i++ {
		fc.IngestPush(&models.Signal{
			ID:        fmt.Sprintf("s%d", i),
			Symbol:    "AAPL",
			Direction: models.DirectionBuy,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
	}

	rec := doGet(e, "/api/feed?limit=3")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []models.SignalPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 3)
	assert.Equal(t, "s4", resp.Data[0].ID)
	assert.Equal(t, "s3", resp.Data[1].ID)
}

func TestFeedEndpointRejectsBadLimit(t *testing.T) {
	e, _ := fixture(t, "http://127.0.0.1:1")

	rec := doGet(e, "/api/feed?limit=500")
	assert.Equal(t, http.StatusOK, rec.Code) // envelope carries the 400
	assert.Contains(t, rec.Body.String(), "400")
}

func TestStatusEndpoint(t *testing.T) {
	e, _ := fixture(t, "http://127.0.0.1:1")

	rec := doGet(e, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"realtime":"disconnected"`)
	assert.Contains(t, rec.Body.String(), `"authenticated":false`)
}

func TestPortfolioUpstreamUnavailable(t *testing.T) {
	e, _ := fixture(t, "http://127.0.0.1:1")

	rec := doGet(e, "/api/portfolio")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_UNAVAILABLE")
}

type fakeArchive struct {
	signals    []*models.Signal
	gotSymbol  string
	gotLimit   int
	queryCalls int
}

func (f *fakeArchive) Init(ctx context.Context) error                           { return nil }
func (f *fakeArchive) Store(ctx context.Context, s *models.Signal) error        { return nil }
func (f *fakeArchive) StoreBatch(ctx context.Context, s []*models.Signal) error { return nil }
func (f *fakeArchive) Health(ctx context.Context) error                         { return nil }
func (f *fakeArchive) Close() error                                             { return nil }

func (f *fakeArchive) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Signal, error) {
	f.queryCalls++
	f.gotSymbol = symbol
	f.gotLimit = limit
	return f.signals, nil
}

func TestArchiveEndpointQueriesStorage(t *testing.T) {
	archive := &fakeArchive{signals: []*models.Signal{
		{ID: "a1", Symbol: "AAPL", Direction: models.DirectionBuy, CreatedAt: time.Now()},
	}}
	e, _ := fixtureWithArchive(t, "http://127.0.0.1:1", archive)

	rec := doGet(e, "/api/archive?symbol=AAPL&limit=10")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []models.SignalPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "a1", resp.Data[0].ID)
	assert.Equal(t, "AAPL", archive.gotSymbol)
	assert.Equal(t, 10, archive.gotLimit)
}

func TestArchiveEndpointRequiresSymbol(t *testing.T) {
	archive := &fakeArchive{}
	e, _ := fixtureWithArchive(t, "http://127.0.0.1:1", archive)

	rec := doGet(e, "/api/archive")
	assert.Contains(t, rec.Body.String(), "400")
	assert.Zero(t, archive.queryCalls)
}

func TestArchiveEndpointWithoutBackend(t *testing.T) {
	e, _ := fixture(t, "http://127.0.0.1:1")

	rec := doGet(e, "/api/archive?symbol=AAPL")
	assert.Contains(t, rec.Body.String(), "ERR_UNAVAILABLE")
}

func TestCommandRateLimited(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"data":{}}`)
	}))
	defer upstream.Close()

	e, _ := fixture(t, upstream.URL)

	body := `{"name":"pause_signals"}`
	var limited bool
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/command", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if strings.Contains(rec.Body.String(), "ERR_RATE_LIMITED") {
			limited = true
			break
		}
	}
	assert.True(t, limited, "burst of commands should hit the rate limit")
}
