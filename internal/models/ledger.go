package models

import (
	"time"
)

// Asset identifies which of an account's two balances a ledger entry moves.
type Asset string

const (
	AssetCurrency Asset = "CURRENCY"
	AssetPoints   Asset = "POINTS"
)

// Ledger entry reason codes.
const (
	ReasonModuleUnlock     = "module-unlock"
	ReasonBalanceTopUp     = "balance-topup"
	ReasonPointsConversion = "points-conversion"
	ReasonSalaryPayout     = "salary-payout"
	ReasonCourseSale       = "course-sale"
	ReasonReversal         = "reversal"
)

type LedgerEntry struct {
	ID            int       `json:"id" db:"id"`
	AccountID     string    `json:"account_id" db:"account_id"`
	Asset         Asset     `json:"asset" db:"asset"`
	EntryType     string    `json:"entry_type" db:"entry_type"` // DEBIT or CREDIT
	Amount        int64     `json:"amount" db:"amount"`         // signed, negative for debits
	BalanceAfter  int64     `json:"balance_after" db:"balance_after"`
	Reason        string    `json:"reason" db:"reason"`
	CorrelationID string    `json:"correlation_id" db:"correlation_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Account holds one user's monetary balance and reward points. Balances are
// whole rupees and whole points; neither may go negative. Every mutation goes
// through the ledger service and leaves a LedgerEntry behind.
type Account struct {
	AccountID string    `json:"account_id" db:"account_id"`
	UserID    int       `json:"user_id" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"`
	Points    int64     `json:"points" db:"points"`
	Version   int       `json:"version" db:"version"` // for optimistic locking
	Status    string    `json:"status" db:"status"`
	AccountNo string    `json:"accountNo,omitempty" db:"account_no"`
	IFSCCode  string    `json:"ifscCode,omitempty" db:"ifsc_code"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Balance is the pair returned by balance queries.
type Balance struct {
	Currency int64 `json:"balance"`
	Points   int64 `json:"points"`
}
