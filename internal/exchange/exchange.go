// Package exchange defines the capability set the ledger engine consumes from
// an exchange, and per-platform adapters implementing it.
package exchange

import (
	"context"
	"hash/fnv"

	"github.com/shopspring/decimal"

	"github.com/cryptobigbro/ledgerd/internal/domain"
)

// Exchange is the collaborator surface of the engine. History and transfer
// reads are incremental: they return records strictly newer than the cursor
// (the id of the newest record the caller already holds), newest-first, and
// an empty slice when there is nothing newer. A zero cursor fetches the full
// history. Adapters handle the platform's own pagination internally.
type Exchange interface {
	Accounts(ctx context.Context) ([]*domain.Account, error)
	Account(ctx context.Context, accountID string) (*domain.Account, error)
	AccountHistory(ctx context.Context, accountID string, newerThan int64) ([]*domain.LedgerEvent, error)
	AccountTransfers(ctx context.Context, accountID string, newerThan int64) ([]*domain.Transfer, error)
	Order(ctx context.Context, orderID string) (*domain.Order, error)
	Price(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

// assignRunningBalances fills the Balance field of a newest-first event batch
// by walking backwards from the account's current balance. Platforms that do
// not report a post-event balance per record (Binance, Bybit) need this; the
// synthesized balances obey the same "balance after this event" contract.
// Transfers (newest-first) interleave with the events by timestamp: a deposit
// or withdrawal between two trades moves the balance without producing an
// event, and skipping it would shift every older synthesized balance.
func assignRunningBalances(current decimal.Decimal, events []*domain.LedgerEvent, transfers []*domain.Transfer) {
	balance := current
	t := 0
	for _, event := range events {
		for t < len(transfers) && !transfers[t].CreatedAt.Before(event.CreatedAt) {
			balance = balance.Sub(transferDelta(transfers[t]))
			t++
		}
		event.Balance = balance
		balance = balance.Sub(event.Amount)
	}
}

// transferDelta is the signed balance change a transfer caused.
func transferDelta(tr *domain.Transfer) decimal.Decimal {
	if tr.Type == domain.TransferTypeDeposit {
		return tr.Amount
	}

	return tr.Amount.Neg()
}

// timelineID builds a stable int64 id from a millisecond timestamp and the
// record's platform identifier. Two records in the same millisecond would
// otherwise collide, and equal ids wedge the incremental cursor.
func timelineID(ms int64, uniq string) int64 {
	h := fnv.New32a()
	h.Write([]byte(uniq))

	return ms*1000 + int64(h.Sum32()%1000)
}
