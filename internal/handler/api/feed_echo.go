package api

import (
	"net/http"
	"time"

	models "SignalRelay/internal/domain/models"
	drepo "SignalRelay/internal/domain/repository"
	"SignalRelay/internal/feed"
	"SignalRelay/internal/gateway"
	"SignalRelay/internal/service/ratelimit"
	"SignalRelay/internal/session"
	"SignalRelay/internal/usecase"
	xhttp "SignalRelay/pkg/http"
	xlogger "SignalRelay/pkg/logger"

	"github.com/labstack/echo/v4"
)

// FeedHandler exposes the relay's local HTTP surface: the merged signal
// view, last prices, connection status, and a pass-through for remote
// reads and commands.
type FeedHandler struct {
	logger    *xlogger.Logger
	collector *usecase.FeedCollector
	cache     *feed.Cache
	prices    *feed.PriceBook
	gw        *gateway.Gateway
	session   *session.Manager
	archive   drepo.Storage
	limiter   *ratelimit.Limiter
}

// NewFeedHandler creates the handler. archive may be nil when no
// archive backend with a read side is configured.
func NewFeedHandler(
	logger *xlogger.Logger,
	collector *usecase.FeedCollector,
	cache *feed.Cache,
	prices *feed.PriceBook,
	gw *gateway.Gateway,
	sess *session.Manager,
	archive drepo.Storage,
) *FeedHandler {
	return &FeedHandler{
		logger:    logger,
		collector: collector,
		cache:     cache,
		prices:    prices,
		gw:        gw,
		session:   sess,
		archive:   archive,
		limiter:   ratelimit.New(),
	}
}

func (h *FeedHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/feed", h.Feed)
	g.GET("/archive", h.Archive)
	g.GET("/prices", h.Prices)
	g.GET("/status", h.Status)
	g.GET("/portfolio", h.Portfolio)
	g.GET("/overview", h.Overview)
	g.POST("/command", h.Command)
}

// Feed returns the merged signal view, newest first.
func (h *FeedHandler) Feed(c echo.Context) error {
	req := &models.FeedRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	signals := h.cache.Snapshot()
	if len(signals) > req.Limit {
		signals = signals[:req.Limit]
	}

	out := make([]models.SignalPayload, 0, len(signals))
	for _, s := range signals {
		out = append(out, toPayload(s))
	}
	return xhttp.SuccessResponse(c, out)
}

// Archive returns archived signals for a symbol from the configured
// storage backend, newest first.
func (h *FeedHandler) Archive(c echo.Context) error {
	if h.archive == nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("no archive backend configured"))
	}

	req := &models.ArchiveRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	to := time.Now()
	from := to.Add(-24 * time.Hour)
	if req.From != "" {
		from, _ = time.Parse(time.RFC3339, req.From)
	}
	if req.To != "" {
		to, _ = time.Parse(time.RFC3339, req.To)
	}

	signals, err := h.archive.Query(c.Request().Context(), req.Symbol, from, to, req.Limit)
	if err != nil {
		h.logger.Error("archive query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("archive query failed").WithError(err))
	}

	out := make([]models.SignalPayload, 0, len(signals))
	for _, s := range signals {
		out = append(out, toPayload(s))
	}
	return xhttp.SuccessResponse(c, out)
}

// Prices returns the last observed price per tracked symbol.
func (h *FeedHandler) Prices(c echo.Context) error {
	ticks := h.prices.Snapshot()
	out := make([]models.PricePayload, 0, len(ticks))
	for _, t := range ticks {
		out = append(out, models.PricePayload{
			Symbol:    t.Symbol,
			Price:     t.Price,
			Timestamp: t.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}
	return xhttp.SuccessResponse(c, out)
}

// Status reports session and realtime channel health.
func (h *FeedHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"authenticated": h.session.Authenticated(),
		"realtime":      h.collector.State().String(),
		"cached":        h.cache.Len(),
	})
}

// Portfolio proxies the remote portfolio read.
func (h *FeedHandler) Portfolio(c echo.Context) error {
	res, err := h.gw.FetchPortfolio(c.Request().Context())
	if err != nil {
		h.logger.Error("portfolio fetch error", xlogger.Error(err))
		return remoteErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

// Overview proxies the remote market overview, served from the
// gateway's short-TTL cache when fresh.
func (h *FeedHandler) Overview(c echo.Context) error {
	res, err := h.gw.FetchMarketOverview(c.Request().Context())
	if err != nil {
		h.logger.Error("overview fetch error", xlogger.Error(err))
		return remoteErrorResponse(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, res)
}

// Command forwards a bot command to the backend.
func (h *FeedHandler) Command(c echo.Context) error {
	if !h.limiter.Allow("command", 5, 1) {
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_RATE_LIMITED", "too many commands", http.StatusTooManyRequests))
	}

	req := &models.CommandRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if err := h.gw.SubmitCommand(c.Request().Context(), req.Name, req.Params); err != nil {
		h.logger.Error("command submit error", xlogger.Error(err))
		return remoteErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "accepted"})
}

// remoteErrorResponse maps gateway errors onto the local surface.
func remoteErrorResponse(c echo.Context, err error) error {
	switch {
	case xhttp.IsRemoteKind(err, xhttp.KindUnauthorized):
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_SESSION_EXPIRED", "session expired", http.StatusUnauthorized))
	case xhttp.IsRemoteKind(err, xhttp.KindMalformed):
		return xhttp.AppErrorResponse(c, xhttp.InternalError("malformed upstream response").WithError(err))
	default:
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("upstream unavailable"))
	}
}

func toPayload(s *models.Signal) models.SignalPayload {
	return models.SignalPayload{
		ID:         s.ID,
		Symbol:     s.Symbol,
		Direction:  string(s.Direction),
		Confidence: s.Confidence,
		EntryPrice: s.EntryPrice,
		StopLoss:   s.StopLoss,
		Target:     s.Target,
		Rationale:  s.Rationale,
		Category:   s.Category,
		CreatedAt:  s.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
