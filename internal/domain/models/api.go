package models

import (
	"encoding/json"
	"time"

	"SignalRelay/pkg/util"
)

// Envelope is the uniform wrapper every remote API response arrives in.
type Envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is the data payload of a successful login.
type LoginResponse struct {
	Token string `json:"token" validate:"required"`
	User  User   `json:"user"`
}

// User identifies the authenticated account.
type User struct {
	ID       string `json:"id" validate:"required"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// SignalPayload is the wire shape of a signal, delivered both by REST
// snapshots and signal_update push events. Validated before conversion
// so a partially-typed value never leaks into the domain.
type SignalPayload struct {
	ID         string  `json:"id"`
	Symbol     string  `json:"symbol" validate:"required"`
	Direction  string  `json:"direction" validate:"required,oneof=buy sell hold"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=100"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	Target     float64 `json:"target_price"`
	Rationale  string  `json:"rationale,omitempty"`
	Category   string  `json:"category,omitempty"`
	CreatedAt  string  `json:"created_at" validate:"required"`
}

// ToSignal converts the wire payload to a domain Signal.
func (p *SignalPayload) ToSignal() *Signal {
	return &Signal{
		ID:         p.ID,
		Symbol:     p.Symbol,
		Direction:  Direction(p.Direction),
		Confidence: p.Confidence,
		EntryPrice: p.EntryPrice,
		StopLoss:   p.StopLoss,
		Target:     p.Target,
		Rationale:  p.Rationale,
		Category:   p.Category,
		CreatedAt:  util.ParseTimeDefault(p.CreatedAt, time.Now()),
	}
}

// SignalsData is the payload of GET /api/signals/live.
type SignalsData struct {
	Signals []SignalPayload `json:"signals" validate:"dive"`
}

// Pagination describes a page of the history endpoint.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// HistoryData is the payload of GET /api/signals/history.
type HistoryData struct {
	Data       []SignalPayload `json:"data" validate:"dive"`
	Pagination Pagination      `json:"pagination"`
}

// Position is one open position in the user's portfolio.
type Position struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
	CurrentPrice float64 `json:"current_price"`
	PnL          float64 `json:"pnl"`
}

// Portfolio is the payload of GET /api/portfolio.
type Portfolio struct {
	TotalValue float64    `json:"total_value"`
	DailyPnL   float64    `json:"daily_pnl"`
	Positions  []Position `json:"positions"`
}

// MarketOverview is the payload of GET /api/market-overview.
type MarketOverview struct {
	Sentiment string             `json:"sentiment"`
	Movers    []PricePayload     `json:"movers"`
	Indices   map[string]float64 `json:"indices"`
}

// AIInsight is one entry of GET /api/ai-insights.
type AIInsight struct {
	Symbol  string  `json:"symbol"`
	Summary string  `json:"summary"`
	Score   float64 `json:"score"`
}

// UserProfile is the payload of GET /api/user/profile.
type UserProfile struct {
	User        User        `json:"user"`
	Plan        string      `json:"plan"`
	Preferences Preferences `json:"preferences"`
}

// Preferences is the body of PUT /api/user/preferences.
type Preferences struct {
	Categories    []string `json:"categories,omitempty"`
	Notifications bool     `json:"notifications"`
	Language      string   `json:"language,omitempty"`
}

// FeedRequest bounds GET /api/feed on the relay's local API.
type FeedRequest struct {
	Limit int `query:"limit" default:"20" validate:"gte=1,lte=100"`
}

// ArchiveRequest bounds GET /api/archive, the read side of the
// archive store. From/To are RFC3339; empty means the last 24 hours.
type ArchiveRequest struct {
	Symbol string `query:"symbol" validate:"required"`
	From   string `query:"from" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	To     string `query:"to" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Limit  int    `query:"limit" default:"50" validate:"gte=1,lte=500"`
}

// CommandRequest forwards an arbitrary bot command to the backend.
type CommandRequest struct {
	Name   string            `json:"name" validate:"required"`
	Params map[string]string `json:"params,omitempty"`
}
