package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferType distinguishes deposits from withdrawals.
type TransferType string

const (
	TransferTypeDeposit  TransferType = "deposit"
	TransferTypeWithdraw TransferType = "withdraw"
)

// Transfer is a deposit to or withdrawal from an account. Transfers are
// paginated independently from the event history and stored newest-first.
type Transfer struct {
	ID          int64           `json:"id"`
	Type        TransferType    `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
}
