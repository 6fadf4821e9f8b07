// Package domain defines the core data structures of the ledger engine.
package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Account is one exchange account. The exchange keeps one account per
// currency per identity, so Currency identifies the account as well as ID.
type Account struct {
	ID       string          `json:"id"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
	// Price of one unit of the account currency in the reference fiat
	// currency. Zero until a valuation has been requested.
	Price decimal.Decimal `json:"price,omitempty"`
}

// String returns a human-readable representation.
func (a *Account) String() string {
	return fmt.Sprintf("%s (%s) balance: %s", a.ID, a.Currency, a.Balance.String())
}
