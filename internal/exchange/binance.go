package exchange

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/cryptobigbro/ledgerd/internal/domain"
)

const binanceTradePageSize = 1000

// BinanceExchange adapts the Binance spot API to the engine's collaborator
// surface. Accounts map one-to-one onto wallet assets, trades against the
// reference fiat market become match/fee events, and deposit/withdraw history
// becomes transfers.
//
// Binance identifies orders by (symbol, id), so order references are encoded
// as "SYMBOL:ID" in event details and decoded here on lookup.
type BinanceExchange struct {
	client *binance.Client
	quote  string
}

// NewBinanceExchange creates a Binance adapter quoting prices and trades in
// the given fiat currency.
func NewBinanceExchange(client *binance.Client, quoteCurrency string) *BinanceExchange {
	return &BinanceExchange{client: client, quote: quoteCurrency}
}

// Accounts lists one account per asset with a non-zero balance. The fiat
// quote account is always included.
func (b *BinanceExchange) Accounts(ctx context.Context) ([]*domain.Account, error) {
	res, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch binance account")
	}

	accounts := make([]*domain.Account, 0, len(res.Balances))
	quoteSeen := false
	for _, bal := range res.Balances {
		balance, err := balanceOf(bal)
		if err != nil {
			return nil, err
		}
		if bal.Asset == b.quote {
			quoteSeen = true
		} else if balance.IsZero() {
			continue
		}
		accounts = append(accounts, &domain.Account{
			ID:       bal.Asset,
			Currency: bal.Asset,
			Balance:  balance,
		})
	}
	if !quoteSeen {
		accounts = append(accounts, &domain.Account{ID: b.quote, Currency: b.quote})
	}

	return accounts, nil
}

// Account returns the account for one asset.
func (b *BinanceExchange) Account(ctx context.Context, accountID string) (*domain.Account, error) {
	res, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch binance account")
	}

	for _, bal := range res.Balances {
		if bal.Asset != accountID {
			continue
		}
		balance, err := balanceOf(bal)
		if err != nil {
			return nil, err
		}
		return &domain.Account{ID: bal.Asset, Currency: bal.Asset, Balance: balance}, nil
	}

	return nil, errors.Errorf("binance has no account for %s", accountID)
}

// AccountHistory returns the asset's trades against the fiat market as
// match and fee events, newest-first, strictly newer than the cursor.
// The fiat account itself has no own trade history on Binance.
func (b *BinanceExchange) AccountHistory(ctx context.Context, accountID string, newerThan int64) ([]*domain.LedgerEvent, error) {
	if accountID == b.quote {
		return nil, nil
	}

	symbol := accountID + b.quote
	fromID := int64(0)
	if newerThan > 0 {
		fromID = decodeTradeID(newerThan) + 1
	}

	var oldestFirst []*domain.LedgerEvent
	for {
		// fromID pages ascending from the cursor; 0 starts at the very
		// first trade of the symbol
		trades, err := b.client.NewListTradesService().
			Symbol(symbol).
			Limit(binanceTradePageSize).
			FromID(fromID).
			Do(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to fetch binance trades for %s", symbol)
		}
		if len(trades) == 0 {
			break
		}

		for _, trade := range trades {
			events, err := b.tradeToEvents(accountID, symbol, trade)
			if err != nil {
				return nil, err
			}
			oldestFirst = append(oldestFirst, events...)
		}

		fromID = trades[len(trades)-1].ID + 1
		if len(trades) < binanceTradePageSize {
			break
		}
	}
	if len(oldestFirst) == 0 {
		return nil, nil
	}

	newest := make([]*domain.LedgerEvent, 0, len(oldestFirst))
	for i := len(oldestFirst) - 1; i >= 0; i-- {
		newest = append(newest, oldestFirst[i])
	}

	account, err := b.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	transfers, err := b.AccountTransfers(ctx, accountID, 0)
	if err != nil {
		return nil, err
	}
	assignRunningBalances(account.Balance, newest, transfers)

	return newest, nil
}

// tradeToEvents maps one trade to a match event plus, when the commission is
// charged in the traded asset, a fee event.
func (b *BinanceExchange) tradeToEvents(asset, symbol string, trade *binance.TradeV3) ([]*domain.LedgerEvent, error) {
	qty, err := decimal.NewFromString(trade.Quantity)
	if err != nil {
		return nil, errors.Wrapf(err, "bad trade quantity for trade %d", trade.ID)
	}

	amount := qty
	if !trade.IsBuyer {
		amount = qty.Neg()
	}

	orderRef := fmt.Sprintf("%s:%d", symbol, trade.OrderID)
	createdAt := time.UnixMilli(trade.Time).UTC()

	events := []*domain.LedgerEvent{{
		ID:        encodeMatchID(trade.ID),
		Type:      domain.EventTypeMatch,
		Amount:    amount,
		CreatedAt: createdAt,
		Details: domain.EventDetails{
			OrderID:   orderRef,
			TradeID:   strconv.FormatInt(trade.ID, 10),
			ProductID: symbol,
		},
	}}

	if trade.CommissionAsset == asset {
		commission, err := decimal.NewFromString(trade.Commission)
		if err != nil {
			return nil, errors.Wrapf(err, "bad commission for trade %d", trade.ID)
		}
		if !commission.IsZero() {
			events = append(events, &domain.LedgerEvent{
				ID:        encodeFeeID(trade.ID),
				Type:      domain.EventTypeFee,
				Amount:    commission.Neg(),
				CreatedAt: createdAt,
				Details: domain.EventDetails{
					OrderID:   orderRef,
					TradeID:   strconv.FormatInt(trade.ID, 10),
					ProductID: symbol,
				},
			})
		}
	}

	return events, nil
}

// AccountTransfers merges the asset's deposit and withdrawal history into one
// newest-first transfer list, strictly newer than the cursor.
func (b *BinanceExchange) AccountTransfers(ctx context.Context, accountID string, newerThan int64) ([]*domain.Transfer, error) {
	deposits, err := b.client.NewListDepositsService().Coin(accountID).Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch binance deposits for %s", accountID)
	}
	withdrawals, err := b.client.NewListWithdrawsService().Coin(accountID).Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch binance withdrawals for %s", accountID)
	}

	transfers := make([]*domain.Transfer, 0, len(deposits)+len(withdrawals))
	for _, dep := range deposits {
		amount, err := decimal.NewFromString(dep.Amount)
		if err != nil {
			return nil, errors.Wrapf(err, "bad deposit amount for tx %s", dep.TxID)
		}
		at := time.UnixMilli(dep.InsertTime).UTC()
		transfers = append(transfers, &domain.Transfer{
			ID:          timelineID(dep.InsertTime, dep.TxID),
			Type:        domain.TransferTypeDeposit,
			Amount:      amount,
			CreatedAt:   at,
			CompletedAt: at,
		})
	}
	for _, wd := range withdrawals {
		amount, err := decimal.NewFromString(wd.Amount)
		if err != nil {
			return nil, errors.Wrapf(err, "bad withdrawal amount for %s", wd.ID)
		}
		at, err := time.Parse("2006-01-02 15:04:05", wd.ApplyTime)
		if err != nil {
			return nil, errors.Wrapf(err, "bad withdrawal apply time for %s", wd.ID)
		}
		transfers = append(transfers, &domain.Transfer{
			ID:          timelineID(at.UnixMilli(), wd.ID),
			Type:        domain.TransferTypeWithdraw,
			Amount:      amount,
			CreatedAt:   at.UTC(),
			CompletedAt: at.UTC(),
		})
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

// Order fetches one settled order by its encoded "SYMBOL:ID" reference.
func (b *BinanceExchange) Order(ctx context.Context, orderID string) (*domain.Order, error) {
	symbol, id, err := decodeOrderRef(orderID)
	if err != nil {
		return nil, err
	}

	res, err := b.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch binance order %s", orderID)
	}

	filled, err := decimal.NewFromString(res.ExecutedQuantity)
	if err != nil {
		return nil, errors.Wrapf(err, "bad executed quantity for order %s", orderID)
	}
	value, err := decimal.NewFromString(res.CummulativeQuoteQuantity)
	if err != nil {
		return nil, errors.Wrapf(err, "bad executed value for order %s", orderID)
	}

	side := domain.OrderSideBuy
	if res.Side == binance.SideTypeSell {
		side = domain.OrderSideSell
	}

	return &domain.Order{
		ID:            orderID,
		Side:          side,
		FilledSize:    filled,
		ExecutedValue: value,
		CreatedAt:     time.UnixMilli(res.Time).UTC(),
	}, nil
}

// Price returns the last price of base quoted in quote.
func (b *BinanceExchange) Price(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	if base == quote {
		return decimal.NewFromInt(1), nil
	}

	prices, err := b.client.NewListPricesService().Symbol(base + quote).Do(ctx)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "failed to fetch binance price for %s%s", base, quote)
	}
	if len(prices) == 0 {
		return decimal.Decimal{}, errors.Errorf("binance returned no price for %s%s", base, quote)
	}

	return decimal.NewFromString(prices[0].Price)
}

func balanceOf(bal binance.Balance) (decimal.Decimal, error) {
	free, err := decimal.NewFromString(bal.Free)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "bad free balance for %s", bal.Asset)
	}
	locked, err := decimal.NewFromString(bal.Locked)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "bad locked balance for %s", bal.Asset)
	}

	return free.Add(locked), nil
}

// Event ids interleave a match and its optional fee event while staying
// strictly ordered by the underlying trade id: match 2n, fee 2n+1.
func encodeMatchID(tradeID int64) int64 { return tradeID * 2 }

func encodeFeeID(tradeID int64) int64 { return tradeID*2 + 1 }

func decodeTradeID(eventID int64) int64 { return eventID / 2 }

func decodeOrderRef(ref string) (string, int64, error) {
	symbol, raw, ok := strings.Cut(ref, ":")
	if !ok {
		return "", 0, errors.Errorf("malformed binance order reference %q", ref)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", 0, errors.Wrapf(err, "malformed binance order id in %q", ref)
	}

	return symbol, id, nil
}
