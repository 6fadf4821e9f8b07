package exchange

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/cryptobigbro/ledgerd/internal/domain"
)

const bybitExecutionPageSize = 100

// BybitExchange adapts the Bybit v5 unified account API. Spot executions
// against the fiat market become match events; Bybit reports execution fees
// inside the execution record, so no separate fee events are emitted.
type BybitExchange struct {
	client *bybit.Client
	quote  string
}

// NewBybitExchange creates a Bybit adapter quoting in the given fiat currency.
func NewBybitExchange(client *bybit.Client, quoteCurrency string) *BybitExchange {
	return &BybitExchange{client: client, quote: quoteCurrency}
}

// Accounts lists one account per coin held in the unified wallet.
func (b *BybitExchange) Accounts(ctx context.Context) ([]*domain.Account, error) {
	res, err := b.client.V5().Account().GetWalletBalance(bybit.AccountTypeV5("UNIFIED"), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch bybit wallet balance")
	}

	var accounts []*domain.Account
	quoteSeen := false
	for _, list := range res.Result.List {
		for _, coin := range list.Coin {
			balance, err := decimal.NewFromString(coin.WalletBalance)
			if err != nil {
				return nil, errors.Wrapf(err, "bad wallet balance for %s", coin.Coin)
			}
			asset := string(coin.Coin)
			if asset == b.quote {
				quoteSeen = true
			} else if balance.IsZero() {
				continue
			}
			accounts = append(accounts, &domain.Account{
				ID:       asset,
				Currency: asset,
				Balance:  balance,
			})
		}
	}
	if !quoteSeen {
		accounts = append(accounts, &domain.Account{ID: b.quote, Currency: b.quote})
	}

	return accounts, nil
}

// Account returns the account for one coin.
func (b *BybitExchange) Account(ctx context.Context, accountID string) (*domain.Account, error) {
	accounts, err := b.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, account := range accounts {
		if account.ID == accountID {
			return account, nil
		}
	}

	return nil, errors.Errorf("bybit has no account for %s", accountID)
}

// AccountHistory returns the coin's spot executions against the fiat market
// as match events, newest-first, strictly newer than the cursor.
func (b *BybitExchange) AccountHistory(ctx context.Context, accountID string, newerThan int64) ([]*domain.LedgerEvent, error) {
	if accountID == b.quote {
		return nil, nil
	}

	symbol := bybit.SymbolV5(accountID + b.quote)
	limit := bybitExecutionPageSize

	var events []*domain.LedgerEvent
	cursor := ""
	for {
		param := bybit.V5GetExecutionParam{
			Category: bybit.CategoryV5Spot,
			Symbol:   &symbol,
			Limit:    &limit,
		}
		if cursor != "" {
			param.Cursor = &cursor
		}

		res, err := b.client.V5().Execution().GetExecutionList(param)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to fetch bybit executions for %s", symbol)
		}

		reachedCursor := false
		for _, exec := range res.Result.List {
			execTime, err := strconv.ParseInt(exec.ExecTime, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "bad execution time for %s", exec.ExecID)
			}
			id := timelineID(execTime, exec.ExecID)
			if id <= newerThan {
				reachedCursor = true
				continue
			}

			qty, err := decimal.NewFromString(exec.ExecQty)
			if err != nil {
				return nil, errors.Wrapf(err, "bad execution quantity for %s", exec.ExecID)
			}
			amount := qty
			if exec.Side == bybit.SideSell {
				amount = qty.Neg()
			}

			events = append(events, &domain.LedgerEvent{
				ID:        id,
				Type:      domain.EventTypeMatch,
				Amount:    amount,
				CreatedAt: time.UnixMilli(execTime).UTC(),
				Details: domain.EventDetails{
					OrderID:   exec.OrderID,
					TradeID:   exec.ExecID,
					ProductID: string(symbol),
				},
			})
		}

		// pages are newest-first; once a page reaches back to the cursor
		// there is nothing newer left behind it
		if reachedCursor || res.Result.NextPageCursor == "" {
			break
		}
		cursor = res.Result.NextPageCursor
	}
	if len(events) == 0 {
		return nil, nil
	}

	sort.Slice(events, func(i, j int) bool { return events[i].ID > events[j].ID })

	account, err := b.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	transfers, err := b.AccountTransfers(ctx, accountID, 0)
	if err != nil {
		return nil, err
	}
	assignRunningBalances(account.Balance, events, transfers)

	return events, nil
}

// AccountTransfers merges the coin's deposit and withdrawal records,
// newest-first, strictly newer than the cursor.
func (b *BybitExchange) AccountTransfers(ctx context.Context, accountID string, newerThan int64) ([]*domain.Transfer, error) {
	coin := bybit.Coin(accountID)

	deposits, err := b.client.V5().Asset().GetDepositRecords(bybit.V5GetDepositRecordsParam{Coin: &coin})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch bybit deposits for %s", accountID)
	}
	withdrawals, err := b.client.V5().Asset().GetWithdrawalRecords(bybit.V5GetWithdrawalRecordsParam{Coin: &coin})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch bybit withdrawals for %s", accountID)
	}

	var transfers []*domain.Transfer
	for _, row := range deposits.Result.Rows {
		transfer, err := bybitTransfer(domain.TransferTypeDeposit, row.Amount, row.SuccessAt, row.TxID)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, transfer)
	}
	for _, row := range withdrawals.Result.Rows {
		transfer, err := bybitTransfer(domain.TransferTypeWithdraw, row.Amount, row.CreatedTime, row.TxID)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, transfer)
	}

	sort.Slice(transfers, func(i, j int) bool { return transfers[i].ID > transfers[j].ID })

	filtered := transfers[:0]
	for _, tr := range transfers {
		if tr.ID > newerThan {
			filtered = append(filtered, tr)
		}
	}
	if len(filtered) == 0 {
		return nil, nil
	}

	return filtered, nil
}

func bybitTransfer(kind domain.TransferType, amount, timestamp, txID string) (*domain.Transfer, error) {
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, errors.Wrapf(err, "bad %s amount", kind)
	}
	ms, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "bad %s timestamp", kind)
	}
	at := time.UnixMilli(ms).UTC()

	return &domain.Transfer{
		ID:          timelineID(ms, txID),
		Type:        kind,
		Amount:      value,
		CreatedAt:   at,
		CompletedAt: at,
	}, nil
}

// Order fetches one settled order from the spot order history.
func (b *BybitExchange) Order(ctx context.Context, orderID string) (*domain.Order, error) {
	res, err := b.client.V5().Order().GetHistoryOrders(bybit.V5GetHistoryOrdersParam{
		Category: bybit.CategoryV5Spot,
		OrderID:  &orderID,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch bybit order %s", orderID)
	}
	if len(res.Result.List) == 0 {
		return nil, errors.Errorf("bybit has no order %s", orderID)
	}

	item := res.Result.List[0]
	filled, err := decimal.NewFromString(item.CumExecQty)
	if err != nil {
		return nil, errors.Wrapf(err, "bad executed quantity for order %s", orderID)
	}
	value, err := decimal.NewFromString(item.CumExecValue)
	if err != nil {
		return nil, errors.Wrapf(err, "bad executed value for order %s", orderID)
	}
	fee, err := decimal.NewFromString(item.CumExecFee)
	if err != nil {
		return nil, errors.Wrapf(err, "bad fee for order %s", orderID)
	}

	side := domain.OrderSideBuy
	if item.Side == bybit.SideSell {
		side = domain.OrderSideSell
	}

	order := &domain.Order{
		ID:            orderID,
		Side:          side,
		FilledSize:    filled,
		ExecutedValue: value,
		Fee:           fee,
	}
	if ms, err := strconv.ParseInt(item.CreatedTime, 10, 64); err == nil {
		order.CreatedAt = time.UnixMilli(ms).UTC()
	}

	return order, nil
}

// Price returns the last spot price of base quoted in quote.
func (b *BybitExchange) Price(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	if base == quote {
		return decimal.NewFromInt(1), nil
	}

	symbol := bybit.SymbolV5(base + quote)
	res, err := b.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &symbol,
	})
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "failed to fetch bybit price for %s", symbol)
	}
	if len(res.Result.Spot.List) == 0 {
		return decimal.Decimal{}, errors.Errorf("bybit returned no price for %s", symbol)
	}

	return decimal.NewFromString(res.Result.Spot.List[0].LastPrice)
}
