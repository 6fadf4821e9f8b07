// Package updater drives incremental fetch-reconcile-persist cycles over all
// exchange accounts and exposes the aggregate read surface of the engine.
package updater

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cryptobigbro/ledgerd/internal/domain"
	"github.com/cryptobigbro/ledgerd/internal/exchange"
	"github.com/cryptobigbro/ledgerd/internal/ledger"
	"github.com/cryptobigbro/ledgerd/internal/storage/journal"
	"github.com/cryptobigbro/ledgerd/internal/storage/snapshot"
	"github.com/cryptobigbro/ledgerd/pkg/retrier"
)

// ErrCurrencyRemapped is returned when the exchange reports a currency
// attached to a different account id than previously recorded. The engine
// assumes the account/currency mapping is a stable bijection; a remap would
// silently corrupt every aggregate, so it fails the cycle instead.
var ErrCurrencyRemapped = errors.New("currency remapped to a different account")

// Updater owns the in-memory ledger state and is its only mutator. Updates
// for one account are strictly sequential (one mutex per account); snapshot
// assembly and persistence run under a coarser lock.
type Updater struct {
	exchange  exchange.Exchange
	store     *ledger.Store
	orders    *ledger.OrderCache
	rec       *ledger.Reconciler
	snapshots *snapshot.Store
	journal   *journal.Journal
	retry     *retrier.Retrier
	fiat      string
	l         *zap.Logger

	mu                sync.Mutex
	accountLocks      map[string]*sync.Mutex
	accountToCurrency map[string]string
	currencyToAccount map[string]string
	accounts          map[string]*domain.Account
}

// New creates an updater seeded from a loaded snapshot. The journal may be
// nil, in which case no activity records are written.
func New(ex exchange.Exchange, snap *domain.Snapshot, snapshots *snapshot.Store,
	jrnl *journal.Journal, fiatCurrency string, retry *retrier.Retrier, l *zap.Logger) *Updater {

	return &Updater{
		exchange:          ex,
		store:             ledger.NewStore(snap.Histories, snap.Transfers),
		orders:            ledger.NewOrderCache(ex, snap.Orders, l),
		rec:               ledger.NewReconciler(fiatCurrency, l),
		snapshots:         snapshots,
		journal:           jrnl,
		retry:             retry,
		fiat:              fiatCurrency,
		l:                 l,
		accountLocks:      make(map[string]*sync.Mutex),
		accountToCurrency: make(map[string]string),
		currencyToAccount: make(map[string]string),
		accounts:          make(map[string]*domain.Account),
	}
}

// Run executes the background update loop until ctx is cancelled. The first
// sweep starts immediately; cancellation takes effect between accounts, never
// mid-cycle, and Run returns only once the in-flight cycle finished.
func (u *Updater) Run(ctx context.Context, interval time.Duration) error {
	u.l.Info("Starting update loop", zap.Duration("interval", interval))

	if err := u.UpdateAll(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		u.l.Error("Initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			u.l.Info("Context done, stopping update loop")
			return ctx.Err()
		case <-ticker.C:
			if err := u.UpdateAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				u.l.Error("Update sweep failed", zap.Error(err))
			}
		}
	}
}

// UpdateAll refreshes every account the exchange reports, sequentially, in
// the order the exchange returns them. A failed account is logged and skipped
// with its prior state untouched; the sweep carries on with the next one.
func (u *Updater) UpdateAll(ctx context.Context) error {
	accounts, err := retrier.DoWithData(u.retry, ctx, func(ctx context.Context) ([]*domain.Account, error) {
		return u.exchange.Accounts(ctx)
	})
	if err != nil {
		return errors.Wrap(err, "failed to list accounts")
	}

	for _, account := range accounts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := u.UpdateAccount(ctx, account); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			u.l.Error("Account update failed",
				zap.String("account_id", account.ID),
				zap.String("currency", account.Currency),
				zap.Error(err))
		}
	}

	return nil
}

// RefreshAccount runs a foreground update cycle for one account id.
func (u *Updater) RefreshAccount(ctx context.Context, accountID string) error {
	account, err := retrier.DoWithData(u.retry, ctx, func(ctx context.Context) (*domain.Account, error) {
		return u.exchange.Account(ctx, accountID)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to fetch account %s", accountID)
	}

	return u.UpdateAccount(ctx, account)
}

// UpdateAccount runs one full update cycle for the account: fetch events
// newer than the stored newest, resolve their orders, fetch new transfers,
// merge, reconcile the whole history and persist the snapshot. Nothing is
// merged until every fetch succeeded, so a failed cycle leaves both the
// in-memory state and the snapshot file exactly as they were.
func (u *Updater) UpdateAccount(ctx context.Context, account *domain.Account) error {
	if err := u.recordAccount(account); err != nil {
		return err
	}

	lock := u.lockFor(account.ID)
	lock.Lock()
	defer lock.Unlock()

	cursor := u.store.NewestEventID(account.ID)
	events, err := retrier.DoWithData(u.retry, ctx, func(ctx context.Context) ([]*domain.LedgerEvent, error) {
		return u.exchange.AccountHistory(ctx, account.ID, cursor)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to fetch history for account %s", account.ID)
	}

	for _, event := range events {
		if !event.IsTrade() {
			continue
		}
		if err := u.ensureOrder(ctx, event.Details.OrderID); err != nil {
			return errors.Wrapf(err, "failed to resolve order for event %d", event.ID)
		}
	}

	transferCursor := u.store.NewestTransferID(account.ID)
	transfers, err := retrier.DoWithData(u.retry, ctx, func(ctx context.Context) ([]*domain.Transfer, error) {
		return u.exchange.AccountTransfers(ctx, account.ID, transferCursor)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to fetch transfers for account %s", account.ID)
	}

	if err := u.store.PrependEvents(account.ID, events); err != nil {
		return err
	}
	if err := u.store.PrependTransfers(account.ID, transfers); err != nil {
		return err
	}

	if err := u.rec.Reconcile(ctx, account.Currency, u.store.History(account.ID), u.orders); err != nil {
		return errors.Wrapf(err, "failed to reconcile account %s", account.ID)
	}

	if err := u.persist(); err != nil {
		return err
	}

	if len(events) > 0 || len(transfers) > 0 {
		u.l.Info("Applied update cycle",
			zap.String("account_id", account.ID),
			zap.String("currency", account.Currency),
			zap.Int("new_events", len(events)),
			zap.Int("new_transfers", len(transfers)))

		u.appendJournal(account, events, transfers)
	}

	return nil
}

// ensureOrder caches the order, retrying transient fetch errors. Malformed
// order data (zero filled size) is not transient and fails immediately.
func (u *Updater) ensureOrder(ctx context.Context, orderID string) error {
	return u.retry.Do(ctx, func(ctx context.Context) error {
		_, err := u.orders.GetOrFetch(ctx, orderID)
		if err != nil && errors.Is(err, domain.ErrZeroFilledSize) {
			return retrier.Permanent(err)
		}
		return err
	})
}

// persist assembles the full snapshot from the live stores and writes it.
func (u *Updater) persist() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	snap := &domain.Snapshot{
		Version:   domain.SnapshotVersion,
		Orders:    u.orders.Orders(),
		Histories: u.store.Histories(),
		Transfers: u.store.Transfers(),
	}

	return u.snapshots.Save(snap)
}

// appendJournal records the applied cycle. Journal failures are logged, not
// fatal: the snapshot already holds the authoritative state.
func (u *Updater) appendJournal(account *domain.Account, events []*domain.LedgerEvent, transfers []*domain.Transfer) {
	if u.journal == nil {
		return
	}

	record := journal.CycleRecord{
		CycleID:      uuid.New().String(),
		AccountID:    account.ID,
		Currency:     account.Currency,
		NewEvents:    len(events),
		NewTransfers: len(transfers),
		NewestID:     u.store.NewestEventID(account.ID),
		AppliedAt:    time.Now().UTC(),
	}
	if err := u.journal.Append(record); err != nil {
		u.l.Warn("Failed to journal update cycle",
			zap.String("account_id", account.ID),
			zap.Error(err))
	}
}

// recordAccount registers the account and validates that the account/currency
// mapping is still the bijection the engine assumes.
func (u *Updater) recordAccount(account *domain.Account) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if currency, ok := u.accountToCurrency[account.ID]; ok && currency != account.Currency {
		return errors.Wrapf(ErrCurrencyRemapped, "account %s was %s, now %s",
			account.ID, currency, account.Currency)
	}
	if id, ok := u.currencyToAccount[account.Currency]; ok && id != account.ID {
		return errors.Wrapf(ErrCurrencyRemapped, "currency %s was account %s, now %s",
			account.Currency, id, account.ID)
	}

	u.accountToCurrency[account.ID] = account.Currency
	u.currencyToAccount[account.Currency] = account.ID
	u.accounts[account.ID] = account

	return nil
}

func (u *Updater) lockFor(accountID string) *sync.Mutex {
	u.mu.Lock()
	defer u.mu.Unlock()

	lock, ok := u.accountLocks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		u.accountLocks[accountID] = lock
	}

	return lock
}
