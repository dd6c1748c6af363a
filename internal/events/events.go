// Package events defines the normalized trading-account event model consumed by
// the evaluation engine, along with duplicate-delivery suppression.
package events

import (
	"fmt"
	"time"
)

// Kind discriminates the event variants. Payload access is through the
// kind-specific struct pointer matching the discriminator; exactly one payload
// pointer is set per event.
type Kind string

const (
	KindOrderPlaced     Kind = "order_placed"
	KindOrderFilled     Kind = "order_filled"
	KindPositionOpened  Kind = "position_opened"
	KindPositionUpdated Kind = "position_updated"
	KindPositionClosed  Kind = "position_closed"
	KindAccountStatus   Kind = "account_status"
	KindQuote           Kind = "quote"
)

// Side of an order, fill, or position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Event is an immutable normalized record emitted by the connectivity layer.
type Event struct {
	Kind       Kind      `json:"kind"`
	Account    string    `json:"account"`
	Instrument string    `json:"instrument"`
	BrokerID   string    `json:"broker_id"`
	Timestamp  time.Time `json:"timestamp"`

	Order    *OrderPayload    `json:"order,omitempty"`
	Fill     *FillPayload     `json:"fill,omitempty"`
	Position *PositionPayload `json:"position,omitempty"`
	Status   *StatusPayload   `json:"status,omitempty"`
	Quote    *QuotePayload    `json:"quote,omitempty"`
}

// OrderPayload accompanies order_placed events. Protective marks stop and
// limit-exit orders so grace-period policies can tell exits from entries.
type OrderPayload struct {
	Side       Side    `json:"side"`
	Price      float64 `json:"price"`
	Qty        float64 `json:"qty"`
	Protective bool    `json:"protective"`
}

// FillPayload accompanies order_filled events. RealizedPnL is nil on opening
// fills and carries the realized amount on closing fills.
type FillPayload struct {
	Side        Side     `json:"side"`
	Price       float64  `json:"price"`
	Qty         float64  `json:"qty"`
	RealizedPnL *float64 `json:"realized_pnl,omitempty"`
	Entry       bool     `json:"entry"`
}

// PositionPayload accompanies position lifecycle events.
type PositionPayload struct {
	Side       Side    `json:"side"`
	Size       float64 `json:"size"`
	EntryPrice float64 `json:"entry_price"`
}

// StatusPayload accompanies account_status events.
type StatusPayload struct {
	Authorized bool `json:"authorized"`
	Connected  bool `json:"connected"`
}

// QuotePayload accompanies quote events with the latest trade/mark price.
type QuotePayload struct {
	Price float64 `json:"price"`
}

// DedupKey identifies the underlying broker action so repeated delivery of the
// same action is recognized regardless of transport retries.
func (e Event) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%s", e.Account, e.Instrument, e.BrokerID, e.Kind)
}

// Validate rejects events the engine cannot attribute to an account.
func (e Event) Validate() error {
	if e.Account == "" {
		return fmt.Errorf("event %s missing account", e.Kind)
	}
	if e.Kind == "" {
		return fmt.Errorf("event for account %s missing kind", e.Account)
	}
	return nil
}
