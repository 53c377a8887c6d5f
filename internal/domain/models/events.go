package models

import "encoding/json"

// Named events carried by the realtime channel.
const (
	EventSignalUpdate = "signal_update"
	EventPriceUpdate  = "price_update"
)

// Outbound message types the client may emit to scope price updates.
const (
	MsgSubscribePrices   = "subscribe_prices"
	MsgUnsubscribePrices = "unsubscribe_prices"
)

// EventEnvelope is the wire frame of every realtime message: event name
// plus an opaque body handed to subscribers untouched.
type EventEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// PricePayload is the body of a price_update event.
type PricePayload struct {
	Symbol    string  `json:"symbol" validate:"required"`
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// PriceScopeMessage is the outbound subscribe/unsubscribe frame.
type PriceScopeMessage struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}
