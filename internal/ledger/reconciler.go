package ledger

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cryptobigbro/ledgerd/internal/domain"
)

// ErrZeroBalanceBuy signals exchange data where a buy match reports a zero
// post-event balance, which would divide the averaging formula by zero. A buy
// cannot empty an account, so this is malformed input and fails the pass.
var ErrZeroBalanceBuy = errors.New("buy match with zero post-event balance")

type orderSource interface {
	GetOrFetch(ctx context.Context, orderID string) (*domain.Order, error)
}

// Reconciler walks one account's event history and derives the running
// weighted-average unit cost and realized PnL for every match event, in the
// reference fiat currency. Fiat accounts are never cost-basis-tracked: their
// unit cost is definitionally 1.
type Reconciler struct {
	fiatCurrency string
	l            *zap.Logger
}

// NewReconciler creates a reconciler for the given reference fiat currency.
func NewReconciler(fiatCurrency string, l *zap.Logger) *Reconciler {
	return &Reconciler{fiatCurrency: fiatCurrency, l: l}
}

// Reconcile processes the full newest-first history of an account in reverse,
// so events are applied oldest to newest. Derived fields already present on a
// match event are adopted as-is instead of being recomputed; only events
// without them trigger an order lookup. The pass is idempotent.
//
// Fee events record their signed amount as realized PnL on every account, the
// fiat reference account included; only the match cost-basis math is skipped
// there (fiat has unit cost 1 by definition).
func (r *Reconciler) Reconcile(ctx context.Context, currency string, history []*domain.LedgerEvent, orders orderSource) error {
	isFiat := currency == r.fiatCurrency

	balance := decimal.Zero
	averageUnitCost := decimal.Zero

	for i := len(history) - 1; i >= 0; i-- {
		event := history[i]
		newBalance := event.Balance

		switch event.Type {
		case domain.EventTypeMatch:
			if isFiat {
				break
			}
			next, err := r.applyMatch(ctx, event, balance, averageUnitCost, newBalance, orders)
			if err != nil {
				return err
			}
			averageUnitCost = next
		case domain.EventTypeFee:
			// The fee itself is a realized loss; it does not move the basis.
			event.Derived = &domain.CostBasis{ProfitAndLoss: event.Amount}
		default:
			// transfers and unknown kinds leave the cost basis untouched
		}

		balance = newBalance
		if balance.IsZero() {
			// a fully liquidated position has no cost basis until repurchased
			averageUnitCost = decimal.Zero
		}
	}

	return nil
}

// applyMatch returns the average unit cost carried forward after the event.
func (r *Reconciler) applyMatch(ctx context.Context, event *domain.LedgerEvent,
	balance, averageUnitCost, newBalance decimal.Decimal, orders orderSource) (decimal.Decimal, error) {

	if event.Derived != nil {
		return event.Derived.AverageUnitCost, nil
	}

	order, err := orders.GetOrFetch(ctx, event.Details.OrderID)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to resolve order for event %d", event.ID)
	}

	amount := event.Amount.Abs()

	switch order.Side {
	case domain.OrderSideBuy:
		if newBalance.IsZero() {
			return decimal.Zero, errors.Wrapf(ErrZeroBalanceBuy, "event %d order %s", event.ID, order.ID)
		}

		newAverageUnitCost := balance.Mul(averageUnitCost).
			Add(amount.Mul(order.ExecutedPrice)).
			Div(newBalance)

		event.Derived = &domain.CostBasis{AverageUnitCost: newAverageUnitCost}

		return newAverageUnitCost, nil
	case domain.OrderSideSell:
		cost := amount.Mul(averageUnitCost)
		pnl := amount.Mul(order.ExecutedPrice).Sub(cost)

		pnlReturn := decimal.Zero
		if !cost.IsZero() {
			pnlReturn = pnl.Div(cost)
		}

		event.Derived = &domain.CostBasis{
			AverageUnitCost:     averageUnitCost,
			ProfitAndLoss:       pnl,
			ProfitAndLossReturn: pnlReturn,
		}

		r.l.Debug("Realized PnL",
			zap.Int64("event_id", event.ID),
			zap.String("order_id", order.ID),
			zap.String("profit_and_loss", pnl.String()))

		// the basis is unchanged by a sell; the zero-balance reset is
		// handled by the caller once the new balance is adopted
		return averageUnitCost, nil
	default:
		return decimal.Zero, errors.Errorf("order %s has unknown side %q", order.ID, order.Side)
	}
}

// CarriedAverageUnitCost replays the derived fields of a reconciled history
// and returns the average unit cost in effect at the given instant (a zero
// time means after the newest event). No order lookups are performed: the
// replay trusts the populated derived records.
func CarriedAverageUnitCost(history []*domain.LedgerEvent, asOf time.Time) decimal.Decimal {
	averageUnitCost := decimal.Zero

	for i := len(history) - 1; i >= 0; i-- {
		event := history[i]
		if !asOf.IsZero() && event.CreatedAt.After(asOf) {
			break
		}

		if event.Type == domain.EventTypeMatch && event.Derived != nil {
			averageUnitCost = event.Derived.AverageUnitCost
		}
		if event.Balance.IsZero() {
			averageUnitCost = decimal.Zero
		}
	}

	return averageUnitCost
}
