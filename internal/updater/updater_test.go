package updater

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cryptobigbro/ledgerd/internal/domain"
	"github.com/cryptobigbro/ledgerd/internal/storage/snapshot"
	"github.com/cryptobigbro/ledgerd/pkg/retrier"
)

type stubExchange struct {
	accounts  []*domain.Account
	histories map[string][]*domain.LedgerEvent
	transfers map[string][]*domain.Transfer
	orders    map[string]*domain.Order
	prices    map[string]decimal.Decimal

	historyErr  error
	transferErr error

	orderCalls     map[string]int
	historyCursors []int64
}

func newStubExchange() *stubExchange {
	return &stubExchange{
		histories:  make(map[string][]*domain.LedgerEvent),
		transfers:  make(map[string][]*domain.Transfer),
		orders:     make(map[string]*domain.Order),
		prices:     make(map[string]decimal.Decimal),
		orderCalls: make(map[string]int),
	}
}

func (s *stubExchange) Accounts(context.Context) ([]*domain.Account, error) {
	return s.accounts, nil
}

func (s *stubExchange) Account(_ context.Context, accountID string) (*domain.Account, error) {
	for _, account := range s.accounts {
		if account.ID == accountID {
			return account, nil
		}
	}
	return nil, errors.Errorf("no account %s", accountID)
}

func (s *stubExchange) AccountHistory(_ context.Context, accountID string, newerThan int64) ([]*domain.LedgerEvent, error) {
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	s.historyCursors = append(s.historyCursors, newerThan)

	var out []*domain.LedgerEvent
	for _, event := range s.histories[accountID] {
		if event.ID > newerThan {
			out = append(out, event)
		}
	}
	return out, nil
}

func (s *stubExchange) AccountTransfers(_ context.Context, accountID string, newerThan int64) ([]*domain.Transfer, error) {
	if s.transferErr != nil {
		return nil, s.transferErr
	}

	var out []*domain.Transfer
	for _, tr := range s.transfers[accountID] {
		if tr.ID > newerThan {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (s *stubExchange) Order(_ context.Context, orderID string) (*domain.Order, error) {
	s.orderCalls[orderID]++
	order, ok := s.orders[orderID]
	if !ok {
		return nil, errors.Errorf("no order %s", orderID)
	}
	clone := *order
	return &clone, nil
}

func (s *stubExchange) Price(_ context.Context, base, quote string) (decimal.Decimal, error) {
	if base == quote {
		return decimal.NewFromInt(1), nil
	}
	price, ok := s.prices[base+quote]
	if !ok {
		return decimal.Decimal{}, errors.Errorf("no price for %s%s", base, quote)
	}
	return price, nil
}

func matchEvent(id int64, amount, balance float64, orderID string) *domain.LedgerEvent {
	return &domain.LedgerEvent{
		ID:        id,
		Type:      domain.EventTypeMatch,
		Amount:    decimal.NewFromFloat(amount),
		Balance:   decimal.NewFromFloat(balance),
		CreatedAt: time.Unix(1700000000+id, 0).UTC(),
		Details:   domain.EventDetails{OrderID: orderID},
	}
}

func order(id string, side domain.OrderSide, size, value float64) *domain.Order {
	return &domain.Order{
		ID:            id,
		Side:          side,
		FilledSize:    decimal.NewFromFloat(size),
		ExecutedValue: decimal.NewFromFloat(value),
	}
}

func quickRetrier() *retrier.Retrier {
	return retrier.New(retrier.WithMaxRetries(1), retrier.WithInitialInterval(time.Millisecond))
}

func newTestUpdater(t *testing.T, ex *stubExchange) (*Updater, *snapshot.Store) {
	t.Helper()
	snapStore := snapshot.NewStore(filepath.Join(t.TempDir(), "ledger.json"), zap.NewNop())
	u := New(ex, domain.NewSnapshot(), snapStore, nil, "EUR", quickRetrier(), zap.NewNop())
	return u, snapStore
}

func TestUpdateAccountFullCycle(t *testing.T) {
	ex := newStubExchange()
	btc := &domain.Account{ID: "acc-btc", Currency: "BTC", Balance: decimal.NewFromFloat(0.6)}
	ex.accounts = []*domain.Account{btc}
	ex.orders["buy-1"] = order("buy-1", domain.OrderSideBuy, 1.0, 100)
	ex.orders["sell-1"] = order("sell-1", domain.OrderSideSell, 0.4, 60)
	ex.histories["acc-btc"] = []*domain.LedgerEvent{
		matchEvent(2, -0.4, 0.6, "sell-1"),
		matchEvent(1, 1.0, 1.0, "buy-1"),
	}

	u, snapStore := newTestUpdater(t, ex)
	require.NoError(t, u.UpdateAccount(context.Background(), btc))

	history := u.HistoryOf("acc-btc")
	require.Len(t, history, 2)
	require.NotNil(t, history[0].Derived)
	assert.True(t, history[0].Derived.ProfitAndLoss.Equal(decimal.NewFromInt(20)))
	require.NotNil(t, history[1].Derived)
	assert.True(t, history[1].Derived.AverageUnitCost.Equal(decimal.NewFromInt(100)))

	// the cycle persisted a loadable snapshot carrying the derived fields
	snap, err := snapStore.Load()
	require.NoError(t, err)
	require.Len(t, snap.Histories["acc-btc"], 2)
	require.NotNil(t, snap.Histories["acc-btc"][1].Derived)
	assert.Len(t, snap.Orders, 2)
}

func TestUpdateAccountIncremental(t *testing.T) {
	ex := newStubExchange()
	btc := &domain.Account{ID: "acc-btc", Currency: "BTC"}
	ex.accounts = []*domain.Account{btc}
	ex.orders["buy-1"] = order("buy-1", domain.OrderSideBuy, 1.0, 100)
	ex.histories["acc-btc"] = []*domain.LedgerEvent{matchEvent(1, 1.0, 1.0, "buy-1")}

	u, _ := newTestUpdater(t, ex)
	require.NoError(t, u.UpdateAccount(context.Background(), btc))
	require.Equal(t, []int64{0}, ex.historyCursors)

	// a newer sell arrives on the exchange
	ex.orders["sell-1"] = order("sell-1", domain.OrderSideSell, 0.5, 100)
	ex.histories["acc-btc"] = append([]*domain.LedgerEvent{matchEvent(2, -0.5, 0.5, "sell-1")},
		ex.histories["acc-btc"]...)

	require.NoError(t, u.UpdateAccount(context.Background(), btc))

	// the second fetch used the newest known id as cursor
	require.Equal(t, []int64{0, 1}, ex.historyCursors)

	history := u.HistoryOf("acc-btc")
	require.Len(t, history, 2)
	assert.True(t, history[0].Derived.ProfitAndLoss.Equal(decimal.NewFromInt(50)))
	assert.True(t, history[1].Derived.AverageUnitCost.Equal(decimal.NewFromInt(100)))

	// each order was fetched exactly once across both cycles
	assert.Equal(t, 1, ex.orderCalls["buy-1"])
	assert.Equal(t, 1, ex.orderCalls["sell-1"])
}

func TestUpdateAccountFetchFailureLeavesStateUntouched(t *testing.T) {
	ex := newStubExchange()
	btc := &domain.Account{ID: "acc-btc", Currency: "BTC"}
	ex.accounts = []*domain.Account{btc}
	ex.orders["buy-1"] = order("buy-1", domain.OrderSideBuy, 1.0, 100)
	ex.histories["acc-btc"] = []*domain.LedgerEvent{matchEvent(1, 1.0, 1.0, "buy-1")}
	ex.transferErr = errors.New("gateway timeout")

	u, snapStore := newTestUpdater(t, ex)
	err := u.UpdateAccount(context.Background(), btc)
	require.Error(t, err)

	// nothing merged, nothing persisted
	assert.Empty(t, u.HistoryOf("acc-btc"))
	snap, loadErr := snapStore.Load()
	require.NoError(t, loadErr)
	assert.Empty(t, snap.Histories)
}

func TestUpdateAccountCurrencyRemapFails(t *testing.T) {
	ex := newStubExchange()
	u, _ := newTestUpdater(t, ex)

	first := &domain.Account{ID: "acc-1", Currency: "BTC"}
	ex.accounts = []*domain.Account{first}
	require.NoError(t, u.UpdateAccount(context.Background(), first))

	err := u.UpdateAccount(context.Background(), &domain.Account{ID: "acc-2", Currency: "BTC"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCurrencyRemapped)

	err = u.UpdateAccount(context.Background(), &domain.Account{ID: "acc-1", Currency: "ETH"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCurrencyRemapped)
}

func TestUpdateAllContinuesAfterAccountFailure(t *testing.T) {
	ex := newStubExchange()
	btc := &domain.Account{ID: "acc-btc", Currency: "BTC"}
	eth := &domain.Account{ID: "acc-eth", Currency: "ETH"}
	ex.accounts = []*domain.Account{btc, eth}
	// btc references an order the exchange cannot return
	ex.histories["acc-btc"] = []*domain.LedgerEvent{matchEvent(1, 1.0, 1.0, "ghost")}
	ex.orders["buy-2"] = order("buy-2", domain.OrderSideBuy, 2.0, 600)
	ex.histories["acc-eth"] = []*domain.LedgerEvent{matchEvent(5, 2.0, 2.0, "buy-2")}

	u, _ := newTestUpdater(t, ex)
	require.NoError(t, u.UpdateAll(context.Background()))

	assert.Empty(t, u.HistoryOf("acc-btc"))
	assert.Len(t, u.HistoryOf("acc-eth"), 1)
}

func TestAggregates(t *testing.T) {
	ex := newStubExchange()
	btc := &domain.Account{ID: "acc-btc", Currency: "BTC", Balance: decimal.NewFromFloat(0.6)}
	eur := &domain.Account{ID: "acc-eur", Currency: "EUR", Balance: decimal.NewFromInt(440)}
	ex.accounts = []*domain.Account{btc, eur}
	ex.orders["buy-1"] = order("buy-1", domain.OrderSideBuy, 1.0, 100)
	ex.orders["sell-1"] = order("sell-1", domain.OrderSideSell, 0.4, 60)
	ex.histories["acc-btc"] = []*domain.LedgerEvent{
		matchEvent(2, -0.4, 0.6, "sell-1"),
		matchEvent(1, 1.0, 1.0, "buy-1"),
	}
	ex.transfers["acc-eur"] = []*domain.Transfer{
		{ID: 1, Type: domain.TransferTypeDeposit, Amount: decimal.NewFromInt(500), CreatedAt: time.Unix(1700000000, 0).UTC()},
	}
	// withdrawal of 0.1 BTC after both trades, while the basis is 100
	ex.transfers["acc-btc"] = []*domain.Transfer{
		{ID: 9, Type: domain.TransferTypeWithdraw, Amount: decimal.NewFromFloat(0.1), CreatedAt: time.Unix(1700000100, 0).UTC()},
	}
	ex.prices["BTCEUR"] = decimal.NewFromInt(200)

	u, _ := newTestUpdater(t, ex)
	require.NoError(t, u.UpdateAll(context.Background()))

	assert.True(t, u.AverageUnitCost("BTC").Equal(decimal.NewFromInt(100)))
	assert.True(t, u.RealizedPnL("BTC").Equal(decimal.NewFromInt(20)))
	assert.True(t, u.AverageUnitCost("EUR").IsZero())

	assert.True(t, u.TotalDeposits().Equal(decimal.NewFromInt(500)), "got %s", u.TotalDeposits())
	// 0.1 BTC at unit cost 100
	assert.True(t, u.TotalWithdrawals().Equal(decimal.NewFromInt(10)), "got %s", u.TotalWithdrawals())

	valuations, err := u.Valuations(context.Background())
	require.NoError(t, err)
	require.Len(t, valuations, 2)

	total := decimal.Zero
	for _, v := range valuations {
		total = total.Add(v.Value)
	}
	// 0.6 BTC * 200 + 440 EUR
	assert.True(t, total.Equal(decimal.NewFromInt(560)), "got %s", total)
	for _, v := range valuations {
		if v.Account.Currency == "EUR" {
			assert.True(t, v.Value.Equal(decimal.NewFromInt(440)))
		} else {
			assert.True(t, v.Value.Equal(decimal.NewFromInt(120)))
			assert.True(t, v.Account.Price.Equal(decimal.NewFromInt(200)))
		}
	}

	// pricing works on copies; the shared account structs handed out by
	// Accounts() stay untouched
	for _, account := range u.Accounts() {
		assert.True(t, account.Price.IsZero(), "account %s was mutated", account.Currency)
	}
}

func TestRunStopsBetweenAccounts(t *testing.T) {
	ex := newStubExchange()
	ex.accounts = []*domain.Account{{ID: "acc-btc", Currency: "BTC"}}

	u, _ := newTestUpdater(t, ex)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx, 10*time.Millisecond) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
