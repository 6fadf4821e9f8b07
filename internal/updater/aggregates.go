package updater

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/cryptobigbro/ledgerd/internal/domain"
	"github.com/cryptobigbro/ledgerd/internal/ledger"
	"github.com/cryptobigbro/ledgerd/internal/storage/journal"
)

// AccountValuation is one account's worth in the reference fiat currency.
type AccountValuation struct {
	Account    *domain.Account `json:"account"`
	Value      decimal.Decimal `json:"value"`
	Percentage decimal.Decimal `json:"percentage"`
}

// Accounts returns the accounts seen so far, sorted by currency. Accounts the
// background loop has not reached yet are simply absent: readers get partial
// data rather than an error.
func (u *Updater) Accounts() []*domain.Account {
	u.mu.Lock()
	defer u.mu.Unlock()

	accounts := make([]*domain.Account, 0, len(u.accounts))
	for _, account := range u.accounts {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Currency < accounts[j].Currency })

	return accounts
}

// HistoryOf returns the account's reconciled event history, newest-first.
func (u *Updater) HistoryOf(accountID string) []*domain.LedgerEvent {
	return u.store.History(accountID)
}

// TransfersFor returns the account's transfers, newest-first.
func (u *Updater) TransfersFor(accountID string) []*domain.Transfer {
	return u.store.TransfersOf(accountID)
}

// Orders returns a copy of the order cache.
func (u *Updater) Orders() map[string]*domain.Order {
	return u.orders.Orders()
}

// ActivityAfter returns journal entries newer than the given index.
func (u *Updater) ActivityAfter(index uint64) ([]journal.Entry, error) {
	if u.journal == nil {
		return nil, nil
	}
	return u.journal.RecordsAfter(index)
}

// AverageUnitCost returns the currency's current average unit cost in fiat,
// zero when the currency is unknown or fully liquidated.
func (u *Updater) AverageUnitCost(currency string) decimal.Decimal {
	accountID, ok := u.accountForCurrency(currency)
	if !ok {
		return decimal.Zero
	}

	return ledger.CarriedAverageUnitCost(u.store.History(accountID), time.Time{})
}

// RealizedPnL sums the realized profit and loss booked on the currency's
// account, fees included.
func (u *Updater) RealizedPnL(currency string) decimal.Decimal {
	accountID, ok := u.accountForCurrency(currency)
	if !ok {
		return decimal.Zero
	}

	total := decimal.Zero
	for _, event := range u.store.History(accountID) {
		if event.Derived != nil {
			total = total.Add(event.Derived.ProfitAndLoss)
		}
	}

	return total
}

// TotalDeposits values all deposits in fiat: fiat deposits at face value,
// crypto deposits at the average unit cost in effect at deposit time.
func (u *Updater) TotalDeposits() decimal.Decimal {
	return u.totalTransfers(domain.TransferTypeDeposit)
}

// TotalWithdrawals values all withdrawals in fiat, each withdrawal at the
// average unit cost in effect at the time it happened.
func (u *Updater) TotalWithdrawals() decimal.Decimal {
	return u.totalTransfers(domain.TransferTypeWithdraw)
}

func (u *Updater) totalTransfers(kind domain.TransferType) decimal.Decimal {
	total := decimal.Zero
	for _, account := range u.Accounts() {
		history := u.store.History(account.ID)
		for _, tr := range u.store.TransfersOf(account.ID) {
			if tr.Type != kind {
				continue
			}
			if account.Currency == u.fiat {
				total = total.Add(tr.Amount)
				continue
			}
			unitCost := ledger.CarriedAverageUnitCost(history, tr.CreatedAt)
			total = total.Add(tr.Amount.Mul(unitCost))
		}
	}

	return total
}

// Valuations prices every non-empty account in fiat and computes its share of
// the total, the way the portfolio index page presents it.
func (u *Updater) Valuations(ctx context.Context) ([]AccountValuation, error) {
	accounts := u.Accounts()

	valuations := make([]AccountValuation, 0, len(accounts))
	total := decimal.Zero
	for _, account := range accounts {
		if account.Balance.IsZero() {
			continue
		}

		// price a copy: the shared account structs are read concurrently
		// by the dashboard handlers
		valued := *account
		value := valued.Balance
		if valued.Currency != u.fiat {
			price, err := u.exchange.Price(ctx, valued.Currency, u.fiat)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to price %s", valued.Currency)
			}
			valued.Price = price
			value = valued.Balance.Mul(price)
		}

		valuations = append(valuations, AccountValuation{Account: &valued, Value: value})
		total = total.Add(value)
	}

	if !total.IsZero() {
		for i := range valuations {
			valuations[i].Percentage = valuations[i].Value.
				Mul(decimal.NewFromInt(100)).
				Div(total)
		}
	}

	return valuations, nil
}

func (u *Updater) accountForCurrency(currency string) (string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	id, ok := u.currencyToAccount[currency]

	return id, ok
}
