package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// ErrZeroFilledSize is returned when an order reports an executed value but
// no filled size, which makes its execution price underivable.
var ErrZeroFilledSize = errors.New("order has zero filled size")

// Order is a settled exchange order. Orders are immutable once filled, so a
// fetched order is cached for the life of the snapshot and never refreshed.
type Order struct {
	ID            string          `json:"id"`
	Side          OrderSide       `json:"side"`
	FilledSize    decimal.Decimal `json:"filled_size"`
	ExecutedValue decimal.Decimal `json:"executed_value"`
	Fee           decimal.Decimal `json:"fill_fees,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	// ExecutedPrice is executed_value / filled_size, computed once on first
	// fetch and persisted with the order.
	ExecutedPrice decimal.Decimal `json:"executed_price"`
}

// ComputeExecutedPrice derives ExecutedPrice if it is not set yet.
func (o *Order) ComputeExecutedPrice() error {
	if !o.ExecutedPrice.IsZero() {
		return nil
	}
	if o.FilledSize.IsZero() {
		return errors.Wrapf(ErrZeroFilledSize, "order %s", o.ID)
	}
	o.ExecutedPrice = o.ExecutedValue.Div(o.FilledSize)

	return nil
}
