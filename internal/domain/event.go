package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType tags the kind of a ledger event. Events arrive from the exchange
// as loosely shaped records and are decoded into one of these kinds once, at
// the ingestion boundary.
type EventType string

const (
	EventTypeMatch    EventType = "match"
	EventTypeFee      EventType = "fee"
	EventTypeTransfer EventType = "transfer"
	EventTypeOther    EventType = "other"
)

// EventDetails carries the exchange-supplied metadata of an event.
type EventDetails struct {
	// OrderID references the order a match or fee event belongs to.
	OrderID string `json:"order_id,omitempty"`
	// TradeID is the exchange trade identifier of a match.
	TradeID string `json:"trade_id,omitempty"`
	// ProductID is the market the event was produced on, e.g. BTC-EUR.
	ProductID string `json:"product_id,omitempty"`
	// TransferID links a transfer-type event to its transfer record.
	TransferID string `json:"transfer_id,omitempty"`
}

// CostBasis holds the derived accounting fields of an event. It is populated
// exactly once by the reconciler and treated as immutable afterwards: a later
// pass over the same event adopts the stored values instead of recomputing
// them, which bounds order lookups to newly fetched events.
type CostBasis struct {
	AverageUnitCost     decimal.Decimal `json:"average_unit_cost"`
	ProfitAndLoss       decimal.Decimal `json:"profit_and_loss"`
	ProfitAndLossReturn decimal.Decimal `json:"profit_and_loss_return"`
}

// LedgerEvent is one entry of an account's history.
type LedgerEvent struct {
	ID     int64           `json:"id"`
	Type   EventType       `json:"type"`
	Amount decimal.Decimal `json:"amount"`
	// Balance is the account balance after this event as reported by the
	// exchange. It is authoritative and never derived from Amount.
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	Details   EventDetails    `json:"details"`
	Derived   *CostBasis      `json:"derived,omitempty"`
}

// IsTrade reports whether the event references an order.
func (e *LedgerEvent) IsTrade() bool {
	return e.Type == EventTypeMatch || e.Type == EventTypeFee
}
