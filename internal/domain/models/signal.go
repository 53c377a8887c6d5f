package models

import (
	"fmt"
	"time"
)

// Direction is the recommended side of a trading signal.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
	DirectionHold Direction = "hold"
)

// Signal represents one trading-signal event emitted by the remote
// signal-generation service. Signals are immutable once created; the
// client never mutates them after ingestion.
type Signal struct {
	ID         string
	Symbol     string
	Direction  Direction
	Confidence float64 // 0-100
	EntryPrice float64
	StopLoss   float64
	Target     float64
	Rationale  string
	Category   string
	CreatedAt  time.Time
}

// Key returns the de-duplication key: the identifier when present,
// otherwise the (symbol, timestamp) pair.
func (s *Signal) Key() string {
	if s.ID != "" {
		return s.ID
	}
	return fmt.Sprintf("%s@%d", s.Symbol, s.CreatedAt.UnixNano())
}

// PriceTick is the latest observed price for a symbol, fed by
// price_update events on the realtime channel.
type PriceTick struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}

// ConnState is the lifecycle state of the realtime channel.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
