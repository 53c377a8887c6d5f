package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"SignalRelay/internal/domain/models"
	drepo "SignalRelay/internal/domain/repository"
	"SignalRelay/pkg/cache"
	xhttp "SignalRelay/pkg/http"
	applogger "SignalRelay/pkg/logger"
)

const overviewCacheTTL = 15 * time.Second

// Gateway performs typed request/response exchanges against the remote
// signal/portfolio API with uniform error normalization. Every call
// attaches authentication before dispatch; a 401 triggers session
// invalidation before the error is surfaced.
type Gateway struct {
	client    *xhttp.Client
	baseURL   string
	auth      drepo.Authenticator
	retry     RetryPolicy
	metrics   drepo.Metrics
	logger    *applogger.Logger
	respCache cache.Service
}

// Option configures Gateway.
type Option func(*Gateway)

// WithRetryPolicy sets the transient-failure retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(g *Gateway) { g.retry = p }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m drepo.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *applogger.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithResponseCache enables short-TTL caching for slow-moving reads
// (market overview), so local consumers do not hammer the remote.
func WithResponseCache(c cache.Service) Option {
	return func(g *Gateway) { g.respCache = c }
}

// New creates a REST gateway.
func New(client *xhttp.Client, baseURL string, auth drepo.Authenticator, opts ...Option) *Gateway {
	g := &Gateway{
		client:  client,
		baseURL: baseURL,
		auth:    auth,
		retry:   DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// FetchSignals returns the latest signals, newest first, bounded by limit.
func (g *Gateway) FetchSignals(ctx context.Context, limit int) ([]*models.Signal, error) {
	var data models.SignalsData
	query := map[string][]string{"limit": {fmt.Sprintf("%d", limit)}}
	if err := g.do(ctx, "fetch_signals", xhttp.MethodGet, "/api/signals/live", query, nil, &data); err != nil {
		return nil, err
	}

	signals := make([]*models.Signal, 0, len(data.Signals))
	for i := range data.Signals {
		signals = append(signals, data.Signals[i].ToSignal())
	}
	return signals, nil
}

// FetchSignalHistory returns one page of past signals.
func (g *Gateway) FetchSignalHistory(ctx context.Context, page, limit int) (*models.HistoryData, error) {
	var data models.HistoryData
	query := map[string][]string{
		"page":  {fmt.Sprintf("%d", page)},
		"limit": {fmt.Sprintf("%d", limit)},
	}
	if err := g.do(ctx, "fetch_history", xhttp.MethodGet, "/api/signals/history", query, nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// FetchPortfolio returns the user's portfolio.
func (g *Gateway) FetchPortfolio(ctx context.Context) (*models.Portfolio, error) {
	var data models.Portfolio
	if err := g.do(ctx, "fetch_portfolio", xhttp.MethodGet, "/api/portfolio", nil, nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// FetchPositions returns the user's open positions.
func (g *Gateway) FetchPositions(ctx context.Context) ([]models.Position, error) {
	var data []models.Position
	if err := g.do(ctx, "fetch_positions", xhttp.MethodGet, "/api/positions", nil, nil, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// FetchMarketOverview returns the market overview, served from the
// response cache when a fresh copy exists.
func (g *Gateway) FetchMarketOverview(ctx context.Context) (*models.MarketOverview, error) {
	const key = "market_overview"

	var data models.MarketOverview
	if g.respCache != nil {
		if err := g.respCache.Get(ctx, key, &data); err == nil {
			return &data, nil
		}
	}

	if err := g.do(ctx, "fetch_market_overview", xhttp.MethodGet, "/api/market-overview", nil, nil, &data); err != nil {
		return nil, err
	}

	if g.respCache != nil {
		_ = g.respCache.Set(ctx, key, &data, overviewCacheTTL)
	}
	return &data, nil
}

// FetchAIInsights returns AI insight entries.
func (g *Gateway) FetchAIInsights(ctx context.Context) ([]models.AIInsight, error) {
	var data []models.AIInsight
	if err := g.do(ctx, "fetch_ai_insights", xhttp.MethodGet, "/api/ai-insights", nil, nil, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// FetchUserProfile returns the authenticated user's profile.
func (g *Gateway) FetchUserProfile(ctx context.Context) (*models.UserProfile, error) {
	var data models.UserProfile
	if err := g.do(ctx, "fetch_user_profile", xhttp.MethodGet, "/api/user/profile", nil, nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// UpdatePreferences stores the user's preferences remotely.
func (g *Gateway) UpdatePreferences(ctx context.Context, prefs *models.Preferences) error {
	return g.do(ctx, "update_preferences", xhttp.MethodPut, "/api/user/preferences", nil, prefs, nil)
}

// MarkNotificationRead marks one notification as read.
func (g *Gateway) MarkNotificationRead(ctx context.Context, id string) error {
	path := fmt.Sprintf("/api/notifications/%s/read", id)
	return g.do(ctx, "mark_notification_read", xhttp.MethodPut, path, nil, nil, nil)
}

// SubmitCommand forwards an arbitrary bot command to the backend.
// Fire-and-forget from the caller's perspective: only success or
// failure is reported.
func (g *Gateway) SubmitCommand(ctx context.Context, name string, params map[string]string) error {
	body := &models.CommandRequest{Name: name, Params: params}
	return g.do(ctx, "submit_command", xhttp.MethodPost, "/api/commands", nil, body, nil)
}

// do dispatches one call: attach auth, send with at most one transient
// retry, normalize the response into the RemoteError taxonomy, decode
// the envelope, and validate the payload shape.
func (g *Gateway) do(ctx context.Context, op, method, path string, query map[string][]string, body, out interface{}) error {
	start := time.Now()
	err := g.dispatch(ctx, op, method, path, query, body, out)
	if g.metrics != nil {
		g.metrics.RecordLatency("gateway_"+op, time.Since(start).Seconds())
		if err != nil {
			g.metrics.RecordError("gateway_" + op)
		}
	}
	if err != nil && g.logger != nil {
		g.logger.Warn("gateway call failed", applogger.String("op", op), applogger.Error(err))
	}
	return err
}

func (g *Gateway) dispatch(ctx context.Context, op, method, path string, query map[string][]string, body, out interface{}) error {
	opts := &xhttp.RequestOptions{
		Method:      method,
		URL:         g.baseURL + path,
		QueryParams: query,
		Body:        body,
		Authorize:   g.auth.AttachAuth,
	}

	var resp *http.Response
	var err error
	attempts := g.retry.attempts()
	for attempt := 1; ; attempt++ {
		resp, err = g.client.SendRequest(ctx, opts)
		if err == nil {
			break
		}
		// Network-class failure: timeout, refused, reset. Retry per
		// policy; 4xx responses never reach this branch.
		if attempt >= attempts {
			return xhttp.NewRemoteError(xhttp.KindUnavailable, op, err)
		}
		select {
		case <-ctx.Done():
			return xhttp.NewRemoteError(xhttp.KindUnavailable, op, ctx.Err())
		case <-time.After(g.retry.Delay):
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// Clear the bad credential before surfacing; the caller still
		// sees the error and must redirect to login.
		g.auth.OnAuthFailure(ctx)
		return xhttp.NewRemoteError(xhttp.KindUnauthorized, op, fmt.Errorf("credential rejected")).WithStatus(resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return xhttp.NewRemoteError(xhttp.KindUnavailable, op, fmt.Errorf("status %d: %s", resp.StatusCode, b)).WithStatus(resp.StatusCode)
	}

	var env models.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return xhttp.NewRemoteError(xhttp.KindMalformed, op, fmt.Errorf("decode envelope: %w", err)).WithStatus(resp.StatusCode)
	}
	if !env.Success {
		return xhttp.NewRemoteError(xhttp.KindUnavailable, op, fmt.Errorf("remote: %s", env.Error)).WithStatus(resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return xhttp.NewRemoteError(xhttp.KindMalformed, op, fmt.Errorf("decode data: %w", err)).WithStatus(resp.StatusCode)
	}
	if err := validateShape(out); err != nil {
		return xhttp.NewRemoteError(xhttp.KindMalformed, op, fmt.Errorf("shape: %w", err)).WithStatus(resp.StatusCode)
	}
	return nil
}

// validateShape runs struct-tag validation on decoded payloads so a
// partially-typed value never propagates to callers. Slices and maps
// have no tags of their own and pass through.
func validateShape(out interface{}) error {
	switch out.(type) {
	case *[]models.Position, *[]models.AIInsight:
		return nil
	default:
		return xhttp.ValidateStruct(out)
	}
}
