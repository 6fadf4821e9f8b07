package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cryptobigbro/ledgerd/internal/domain"
	"github.com/cryptobigbro/ledgerd/internal/storage/journal"
	"github.com/cryptobigbro/ledgerd/internal/updater"
)

type stubLedger struct {
	accounts     []*domain.Account
	history      map[string][]*domain.LedgerEvent
	transfers    map[string][]*domain.Transfer
	orders       map[string]*domain.Order
	activity     []journal.Entry
	valuations   []updater.AccountValuation
	valuationErr error

	refreshed  []string
	refreshErr error
}

func (s *stubLedger) Accounts() []*domain.Account { return s.accounts }

func (s *stubLedger) HistoryOf(accountID string) []*domain.LedgerEvent {
	return s.history[accountID]
}

func (s *stubLedger) TransfersFor(accountID string) []*domain.Transfer {
	return s.transfers[accountID]
}

func (s *stubLedger) Orders() map[string]*domain.Order { return s.orders }

func (s *stubLedger) ActivityAfter(index uint64) ([]journal.Entry, error) {
	out := make([]journal.Entry, 0, len(s.activity))
	for _, entry := range s.activity {
		if entry.Index > index {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *stubLedger) AverageUnitCost(string) decimal.Decimal { return decimal.NewFromInt(100) }
func (s *stubLedger) RealizedPnL(string) decimal.Decimal     { return decimal.NewFromInt(20) }
func (s *stubLedger) TotalDeposits() decimal.Decimal         { return decimal.NewFromInt(500) }
func (s *stubLedger) TotalWithdrawals() decimal.Decimal      { return decimal.NewFromInt(10) }

func (s *stubLedger) Valuations(context.Context) ([]updater.AccountValuation, error) {
	return s.valuations, s.valuationErr
}

func (s *stubLedger) RefreshAccount(_ context.Context, accountID string) error {
	s.refreshed = append(s.refreshed, accountID)
	return s.refreshErr
}

func newTestServer(ledger ledgerReader) *httptest.Server {
	srv := NewServer(":0", ledger, zap.NewNop())
	return httptest.NewServer(srv.routes())
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

func TestHandleAccounts(t *testing.T) {
	btc := &domain.Account{ID: "acc-1", Currency: "BTC", Balance: decimal.NewFromInt(1)}

	t.Run("valued accounts", func(t *testing.T) {
		ledger := &stubLedger{
			accounts: []*domain.Account{btc},
			valuations: []updater.AccountValuation{
				{Account: btc, Value: decimal.NewFromInt(50000), Percentage: decimal.NewFromInt(100)},
			},
		}
		ts := newTestServer(ledger)
		defer ts.Close()

		var body struct {
			Accounts []updater.AccountValuation `json:"accounts"`
		}
		status := getJSON(t, ts.URL+"/api/accounts", &body)

		assert.Equal(t, http.StatusOK, status)
		require.Len(t, body.Accounts, 1)
		assert.Equal(t, "BTC", body.Accounts[0].Account.Currency)
		assert.True(t, body.Accounts[0].Value.Equal(decimal.NewFromInt(50000)))
	})

	t.Run("falls back to unvalued list when pricing fails", func(t *testing.T) {
		ledger := &stubLedger{
			accounts:     []*domain.Account{btc},
			valuationErr: errors.New("price feed down"),
		}
		ts := newTestServer(ledger)
		defer ts.Close()

		var body struct {
			Accounts []*domain.Account `json:"accounts"`
		}
		status := getJSON(t, ts.URL+"/api/accounts", &body)

		assert.Equal(t, http.StatusOK, status)
		require.Len(t, body.Accounts, 1)
		assert.Equal(t, "acc-1", body.Accounts[0].ID)
	})
}

func TestHandleSummary(t *testing.T) {
	ledger := &stubLedger{
		accounts: []*domain.Account{{ID: "acc-1", Currency: "BTC", Balance: decimal.NewFromInt(1)}},
	}
	ts := newTestServer(ledger)
	defer ts.Close()

	var body struct {
		Currencies []struct {
			Currency        string          `json:"currency"`
			AverageUnitCost decimal.Decimal `json:"average_unit_cost"`
			RealizedPnL     decimal.Decimal `json:"realized_pnl"`
		} `json:"currencies"`
		TotalDeposits    decimal.Decimal `json:"total_deposits"`
		TotalWithdrawals decimal.Decimal `json:"total_withdrawals"`
	}
	status := getJSON(t, ts.URL+"/api/summary", &body)

	assert.Equal(t, http.StatusOK, status)
	require.Len(t, body.Currencies, 1)
	assert.Equal(t, "BTC", body.Currencies[0].Currency)
	assert.True(t, body.Currencies[0].AverageUnitCost.Equal(decimal.NewFromInt(100)))
	assert.True(t, body.Currencies[0].RealizedPnL.Equal(decimal.NewFromInt(20)))
	assert.True(t, body.TotalDeposits.Equal(decimal.NewFromInt(500)))
	assert.True(t, body.TotalWithdrawals.Equal(decimal.NewFromInt(10)))
}

func TestHandleHistory(t *testing.T) {
	history := []*domain.LedgerEvent{
		{ID: 2, Type: domain.EventTypeMatch, Amount: decimal.NewFromInt(1)},
		{ID: 1, Type: domain.EventTypeMatch, Amount: decimal.NewFromInt(2)},
	}

	t.Run("serves stored history", func(t *testing.T) {
		ledger := &stubLedger{history: map[string][]*domain.LedgerEvent{"acc-1": history}}
		ts := newTestServer(ledger)
		defer ts.Close()

		var body struct {
			AccountID string                `json:"account_id"`
			History   []*domain.LedgerEvent `json:"history"`
		}
		status := getJSON(t, ts.URL+"/api/accounts/acc-1/history", &body)

		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "acc-1", body.AccountID)
		require.Len(t, body.History, 2)
		assert.Equal(t, int64(2), body.History[0].ID)
		assert.Empty(t, ledger.refreshed)
	})

	t.Run("refresh=1 triggers foreground update", func(t *testing.T) {
		ledger := &stubLedger{history: map[string][]*domain.LedgerEvent{"acc-1": history}}
		ts := newTestServer(ledger)
		defer ts.Close()

		var body struct {
			History []*domain.LedgerEvent `json:"history"`
		}
		status := getJSON(t, ts.URL+"/api/accounts/acc-1/history?refresh=1", &body)

		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, []string{"acc-1"}, ledger.refreshed)
	})

	t.Run("stale history served when refresh fails", func(t *testing.T) {
		ledger := &stubLedger{
			history:    map[string][]*domain.LedgerEvent{"acc-1": history},
			refreshErr: errors.New("exchange unreachable"),
		}
		ts := newTestServer(ledger)
		defer ts.Close()

		var body struct {
			History []*domain.LedgerEvent `json:"history"`
		}
		status := getJSON(t, ts.URL+"/api/accounts/acc-1/history?refresh=1", &body)

		assert.Equal(t, http.StatusOK, status)
		require.Len(t, body.History, 2)
	})
}

func TestHandleTransfers(t *testing.T) {
	ledger := &stubLedger{
		transfers: map[string][]*domain.Transfer{
			"acc-1": {
				{ID: 10, Type: domain.TransferTypeDeposit, Amount: decimal.NewFromInt(5)},
			},
		},
	}
	ts := newTestServer(ledger)
	defer ts.Close()

	var body struct {
		Transfers []*domain.Transfer `json:"transfers"`
	}
	status := getJSON(t, ts.URL+"/api/accounts/acc-1/transfers", &body)

	assert.Equal(t, http.StatusOK, status)
	require.Len(t, body.Transfers, 1)
	assert.Equal(t, domain.TransferTypeDeposit, body.Transfers[0].Type)
}

func TestHandleOrders(t *testing.T) {
	ledger := &stubLedger{
		orders: map[string]*domain.Order{
			"o1": {ID: "o1", Side: domain.OrderSideBuy, FilledSize: decimal.NewFromInt(1), ExecutedValue: decimal.NewFromInt(100)},
		},
	}
	ts := newTestServer(ledger)
	defer ts.Close()

	var body struct {
		Orders map[string]*domain.Order `json:"orders"`
	}
	status := getJSON(t, ts.URL+"/api/orders", &body)

	assert.Equal(t, http.StatusOK, status)
	require.Contains(t, body.Orders, "o1")
	assert.Equal(t, domain.OrderSideBuy, body.Orders["o1"].Side)
}

func TestHandleActivity(t *testing.T) {
	ledger := &stubLedger{
		activity: []journal.Entry{
			{Index: 1, Record: journal.CycleRecord{CycleID: "c1", AccountID: "acc-1", AppliedAt: time.Now()}},
			{Index: 2, Record: journal.CycleRecord{CycleID: "c2", AccountID: "acc-1", AppliedAt: time.Now()}},
		},
	}
	ts := newTestServer(ledger)
	defer ts.Close()

	t.Run("full feed", func(t *testing.T) {
		var body struct {
			Activity []journal.Entry `json:"activity"`
		}
		status := getJSON(t, ts.URL+"/api/activity", &body)

		assert.Equal(t, http.StatusOK, status)
		assert.Len(t, body.Activity, 2)
	})

	t.Run("after cursor", func(t *testing.T) {
		var body struct {
			Activity []journal.Entry `json:"activity"`
		}
		status := getJSON(t, ts.URL+"/api/activity?after=1", &body)

		assert.Equal(t, http.StatusOK, status)
		require.Len(t, body.Activity, 1)
		assert.Equal(t, "c2", body.Activity[0].Record.CycleID)
	})

	t.Run("bad cursor rejected", func(t *testing.T) {
		status := getJSON(t, ts.URL+"/api/activity?after=abc", nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})
}
