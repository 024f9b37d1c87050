package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/edunest/backend/internal/models"
)

// LedgerService is the only writer of accounts and ledger_entries. Every
// balance mutation locks the account row, appends one immutable entry and
// bumps the account version; entries are never edited or removed.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

func (s *LedgerService) GetBalance(accountID string) (*models.Balance, error) {
	var b models.Balance
	err := s.db.QueryRow(`
		SELECT balance, points FROM accounts
		WHERE account_id = $1`, accountID).Scan(&b.Currency, &b.Points)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ApplyEntry runs one mutation in its own transaction.
func (s *LedgerService) ApplyEntry(accountID string, asset models.Asset, amount int64, reason, correlationID string) (*models.LedgerEntry, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry, err := s.ApplyEntryTx(tx, accountID, asset, amount, reason, correlationID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// ApplyEntryTx applies a signed amount (negative for debits) to one of the
// account's balances inside the caller's transaction. A debit that would
// drive the balance negative fails with ErrInsufficientFunds and leaves
// nothing behind. The row lock serializes concurrent debits against the
// same account; the version check catches writers that raced past it.
func (s *LedgerService) ApplyEntryTx(tx *sql.Tx, accountID string, asset models.Asset, amount int64, reason, correlationID string) (*models.LedgerEntry, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}

	current := account.Balance
	if asset == models.AssetPoints {
		current = account.Points
	}

	newBalance := current + amount
	if newBalance < 0 {
		return nil, ErrInsufficientFunds
	}

	entryType := "CREDIT"
	if amount < 0 {
		entryType = "DEBIT"
	}

	entry := &models.LedgerEntry{
		AccountID:     accountID,
		Asset:         asset,
		EntryType:     entryType,
		Amount:        amount,
		BalanceAfter:  newBalance,
		Reason:        reason,
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
	}

	err = tx.QueryRow(`
		INSERT INTO ledger_entries (account_id, asset, entry_type, amount, balance_after, reason, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		entry.AccountID, entry.Asset, entry.EntryType, entry.Amount,
		entry.BalanceAfter, entry.Reason, entry.CorrelationID, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return nil, err
	}

	if err := s.updateBalance(tx, accountID, asset, newBalance, account.Version); err != nil {
		return nil, err
	}

	return entry, nil
}

// ReverseTx appends the compensating credit for a committed debit whose
// paired effect failed, keeping the original correlation id so the audit
// trail links the two.
func (s *LedgerService) ReverseTx(tx *sql.Tx, original *models.LedgerEntry) (*models.LedgerEntry, error) {
	return s.ApplyEntryTx(tx, original.AccountID, original.Asset, -original.Amount, models.ReasonReversal, original.CorrelationID)
}

// History returns the newest entries for an account, optionally filtered to
// one asset.
func (s *LedgerService) History(accountID string, asset models.Asset, limit int) ([]models.LedgerEntry, error) {
	query := `
		SELECT id, account_id, asset, entry_type, amount, balance_after, reason, correlation_id, created_at
		FROM ledger_entries
		WHERE account_id = $1`
	args := []any{accountID}

	if asset != "" {
		query += ` AND asset = $2`
		args = append(args, asset)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Asset, &e.EntryType, &e.Amount,
			&e.BalanceAfter, &e.Reason, &e.CorrelationID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HasEntry reports whether a ledger entry with the given reason and
// correlation id already exists, the idempotency check for externally
// triggered credits.
func (s *LedgerService) HasEntry(reason, correlationID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM ledger_entries
			WHERE reason = $1 AND correlation_id = $2
		)`, reason, correlationID).Scan(&exists)
	return exists, err
}

func (s *LedgerService) lockAccount(tx *sql.Tx, accountID string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT account_id, balance, points, version, updated_at
		FROM accounts
		WHERE account_id = $1
		FOR UPDATE`, accountID).Scan(&account.AccountID, &account.Balance, &account.Points, &account.Version, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *LedgerService) updateBalance(tx *sql.Tx, accountID string, asset models.Asset, newBalance int64, version int) error {
	column := "balance"
	if asset == models.AssetPoints {
		column = "points"
	}

	result, err := tx.Exec(fmt.Sprintf(`
		UPDATE accounts
		SET %s = $1, version = version + 1, updated_at = $2
		WHERE account_id = $3 AND version = $4`, column),
		newBalance, time.Now(), accountID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: account %s", ErrConcurrentModification, accountID)
	}

	return nil
}
