package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/edunest/backend/internal/gateway"
	"github.com/edunest/backend/internal/models"
)

const orderRetries = 3

// PayoutService batches teacher salary payments through the payment
// gateway. A batch moves draft -> ordered -> settled or failed; an admin
// can abandon a batch that has not settled. Ledger debits happen only on
// a verified settlement, in the same transaction as the state flip.
type PayoutService struct {
	db         *sql.DB
	gateway    gateway.Gateway
	ledger     *LedgerService
	settlement *SettlementService
	banks      *BankService
	validator  *ValidationHelper
}

func NewPayoutService(db *sql.DB, gw gateway.Gateway, ledger *LedgerService, settlement *SettlementService, banks *BankService) *PayoutService {
	return &PayoutService{
		db:         db,
		gateway:    gw,
		ledger:     ledger,
		settlement: settlement,
		banks:      banks,
		validator:  NewValidationHelper(),
	}
}

// PendingSalaries lists teachers with a positive balance, which is the
// salary owed to them from course sales.
func (s *PayoutService) PendingSalaries() (int64, []models.TeacherSalary, error) {
	rows, err := s.db.Query(`
		SELECT a.account_id, u.first_name || ' ' || u.last_name, u.email,
		       a.balance, COALESCE(a.account_no, ''), COALESCE(a.ifsc_code, '')
		FROM accounts a
		JOIN users u ON u.account_id = a.account_id
		WHERE u.role = 'teacher' AND a.balance > 0
		ORDER BY a.balance DESC`)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	var total int64
	teachers := []models.TeacherSalary{}
	for rows.Next() {
		var t models.TeacherSalary
		if err := rows.Scan(&t.AccountID, &t.Name, &t.Email, &t.PendingSalary, &t.AccountNo, &t.IFSCCode); err != nil {
			return 0, nil, err
		}
		total += t.PendingSalary
		teachers = append(teachers, t)
	}
	return total, teachers, rows.Err()
}

// CreateBatch snapshots the selected teachers' pending salaries into a
// draft batch. Teachers without usable bank details or with nothing owed
// are reported back as ineligible instead of silently dropped; the batch
// total is the sum of the eligible snapshots only.
func (s *PayoutService) CreateBatch(payeeIDs []string, createdBy string) (*models.PayoutBatch, []models.IneligiblePayee, error) {
	if len(payeeIDs) == 0 {
		return nil, nil, ErrInvalidAmount
	}

	batch := &models.PayoutBatch{
		ID:        uuid.New().String(),
		Status:    models.BatchDraft,
		Currency:  "INR",
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	ineligible := []models.IneligiblePayee{}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	for _, accountID := range payeeIDs {
		var item models.PayoutItem
		err := tx.QueryRow(`
			SELECT a.account_id, u.first_name || ' ' || u.last_name, u.email,
			       a.balance, COALESCE(a.account_no, ''), COALESCE(a.ifsc_code, '')
			FROM accounts a
			JOIN users u ON u.account_id = a.account_id
			WHERE a.account_id = $1 AND u.role = 'teacher'`, accountID).Scan(
			&item.AccountID, &item.Name, &item.Email, &item.Amount, &item.AccountNo, &item.IFSCCode)
		if err == sql.ErrNoRows {
			ineligible = append(ineligible, models.IneligiblePayee{
				AccountID: accountID, Reason: "not a teacher account",
			})
			continue
		} else if err != nil {
			return nil, nil, err
		}

		switch {
		case item.AccountNo == "" || item.IFSCCode == "":
			ineligible = append(ineligible, models.IneligiblePayee{
				AccountID: item.AccountID, Name: item.Name, Email: item.Email,
				Reason: "missing bank details",
			})
			continue
		case !s.banks.ValidIFSC(item.IFSCCode):
			ineligible = append(ineligible, models.IneligiblePayee{
				AccountID: item.AccountID, Name: item.Name, Email: item.Email,
				Reason: "unrecognized IFSC code",
			})
			continue
		case item.Amount <= 0:
			ineligible = append(ineligible, models.IneligiblePayee{
				AccountID: item.AccountID, Name: item.Name, Email: item.Email,
				Reason: "no pending salary",
			})
			continue
		}

		item.BatchID = batch.ID
		batch.Items = append(batch.Items, item)
		batch.TotalAmount += item.Amount
	}

	if len(batch.Items) == 0 {
		return nil, ineligible, ErrInvalidAmount
	}

	_, err = tx.Exec(`
		INSERT INTO payout_batches (id, status, total_amount, currency, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		batch.ID, batch.Status, batch.TotalAmount, batch.Currency,
		batch.CreatedBy, batch.CreatedAt, batch.UpdatedAt)
	if err != nil {
		return nil, nil, err
	}

	for _, item := range batch.Items {
		_, err = tx.Exec(`
			INSERT INTO payout_items (batch_id, account_id, name, email, amount, account_no, ifsc_code)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.BatchID, item.AccountID, item.Name, item.Email,
			item.Amount, item.AccountNo, item.IFSCCode)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	log.Printf("[PAYOUT] Batch %s drafted: %d teachers, total %d, %d ineligible",
		batch.ID, len(batch.Items), batch.TotalAmount, len(ineligible))
	return batch, ineligible, nil
}

// Submit places a gateway order for a draft batch. Transient gateway
// failures before an order exists are retried; once an order reference
// is recorded the batch is ordered and resubmitting returns it as is,
// never a second order.
func (s *PayoutService) Submit(ctx context.Context, batchID string) (*models.PayoutBatch, error) {
	batch, err := s.GetBatch(batchID)
	if err != nil {
		return nil, err
	}

	switch batch.Status {
	case models.BatchOrdered:
		return batch, nil
	case models.BatchAbandoned:
		return nil, ErrBatchAbandoned
	case models.BatchSettled, models.BatchFailed:
		return nil, fmt.Errorf("%w: batch %s is %s", ErrConcurrentModification, batchID, batch.Status)
	}

	var order *gateway.Order
	for attempt := 1; attempt <= orderRetries; attempt++ {
		order, err = s.gateway.CreateOrder(ctx, batch.TotalAmount, batch.Currency, "salary-"+batch.ID)
		if err == nil {
			break
		}
		if !errors.Is(err, gateway.ErrUnavailable) || attempt == orderRetries {
			return nil, err
		}
		log.Printf("[PAYOUT] Gateway unavailable for batch %s, attempt %d/%d", batchID, attempt, orderRetries)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}

	result, err := s.db.Exec(`
		UPDATE payout_batches
		SET status = $1, order_ref = $2, updated_at = $3
		WHERE id = $4 AND status = $5`,
		models.BatchOrdered, order.ID, time.Now(), batchID, models.BatchDraft)
	if err != nil {
		return nil, err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Someone else moved the batch while we were ordering. The order we
		// just placed is orphaned; the admin console reconciles via FetchOrder.
		return nil, fmt.Errorf("%w: batch %s left draft during submit", ErrConcurrentModification, batchID)
	}

	batch.Status = models.BatchOrdered
	batch.OrderRef = order.ID
	log.Printf("[PAYOUT] Batch %s ordered: %s for %d %s", batchID, order.ID, batch.TotalAmount, batch.Currency)
	return batch, nil
}

// ConfirmByOrder settles the batch that owns the proof's order reference.
// The checkout widget reports the gateway order id, not the batch id.
func (s *PayoutService) ConfirmByOrder(proof *models.VerificationProof) (*models.PayoutBatch, error) {
	var batchID string
	err := s.db.QueryRow(`
		SELECT id FROM payout_batches WHERE order_ref = $1`, proof.OrderID).Scan(&batchID)
	if err != nil {
		return nil, err
	}
	return s.Confirm(batchID, proof)
}

// Confirm verifies the settlement proof and, in one transaction, flips
// the batch to settled and debits every payee's snapshot amount. A proof
// that fails verification marks the batch failed and touches no balance.
// Confirming an already settled batch with the same order is a no-op.
func (s *PayoutService) Confirm(batchID string, proof *models.VerificationProof) (*models.PayoutBatch, error) {
	batch, err := s.GetBatch(batchID)
	if err != nil {
		return nil, err
	}

	switch batch.Status {
	case models.BatchAbandoned:
		return nil, ErrBatchAbandoned
	case models.BatchSettled:
		if batch.OrderRef == proof.OrderID {
			return batch, nil
		}
		return nil, fmt.Errorf("%w: batch %s already settled under order %s", ErrConcurrentModification, batchID, batch.OrderRef)
	case models.BatchFailed:
		return nil, ErrVerificationFailed
	case models.BatchDraft:
		return nil, fmt.Errorf("%w: batch %s has no order to confirm", ErrVerificationFailed, batchID)
	}

	if proof.OrderID != batch.OrderRef || !s.gateway.VerifySignature(proof.OrderID, proof.PaymentID, proof.Signature) {
		if _, err := s.db.Exec(`
			UPDATE payout_batches SET status = $1, updated_at = $2
			WHERE id = $3 AND status = $4`,
			models.BatchFailed, time.Now(), batchID, models.BatchOrdered); err != nil {
			return nil, err
		}
		log.Printf("[PAYOUT] Verification failed for batch %s, order %s", batchID, proof.OrderID)
		return nil, ErrVerificationFailed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	result, err := tx.Exec(`
		UPDATE payout_batches
		SET status = $1, payment_ref = $2, settled_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5`,
		models.BatchSettled, proof.PaymentID, now, batchID, models.BatchOrdered)
	if err != nil {
		return nil, err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Raced with another confirm or an abandon; re-read and report.
		current, rerr := s.GetBatch(batchID)
		if rerr == nil && current.Status == models.BatchSettled && current.OrderRef == proof.OrderID {
			return current, nil
		}
		if rerr == nil && current.Status == models.BatchAbandoned {
			return nil, ErrBatchAbandoned
		}
		return nil, fmt.Errorf("%w: batch %s", ErrConcurrentModification, batchID)
	}

	for _, item := range batch.Items {
		if _, err := s.ledger.ApplyEntryTx(tx, item.AccountID, models.AssetCurrency, -item.Amount, models.ReasonSalaryPayout, batch.ID); err != nil {
			return nil, fmt.Errorf("debit %s: %w", item.AccountID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	batch.Status = models.BatchSettled
	batch.PaymentRef = proof.PaymentID
	batch.SettledAt = &now

	log.Printf("[PAYOUT] Batch %s settled: %d teachers paid, total %d", batchID, len(batch.Items), batch.TotalAmount)

	if s.settlement != nil {
		if err := s.settlement.ExportBatch(context.Background(), batch); err != nil {
			// Settlement export is downstream bookkeeping; the payout stands.
			log.Printf("[PAYOUT] Settlement export failed for batch %s: %v", batchID, err)
		}
	}

	return batch, nil
}

// Abandon retires a batch that will never settle. Only draft and ordered
// batches can be abandoned; later proofs for the batch are rejected.
func (s *PayoutService) Abandon(batchID string) (*models.PayoutBatch, error) {
	result, err := s.db.Exec(`
		UPDATE payout_batches SET status = $1, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5)`,
		models.BatchAbandoned, time.Now(), batchID, models.BatchDraft, models.BatchOrdered)
	if err != nil {
		return nil, err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		batch, rerr := s.GetBatch(batchID)
		if rerr != nil {
			return nil, rerr
		}
		return nil, fmt.Errorf("%w: cannot abandon %s batch %s", ErrConcurrentModification, batch.Status, batchID)
	}

	log.Printf("[PAYOUT] Batch %s abandoned", batchID)
	return s.GetBatch(batchID)
}

// Reconcile checks the gateway's view of an ordered batch whose proof
// never arrived, settling it if the order is paid.
func (s *PayoutService) Reconcile(ctx context.Context, batchID string) (*models.PayoutBatch, error) {
	batch, err := s.GetBatch(batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != models.BatchOrdered {
		return batch, nil
	}

	order, err := s.gateway.FetchOrder(ctx, batch.OrderRef)
	if err != nil {
		return nil, err
	}
	if order.Status != "paid" {
		return batch, nil
	}

	// The gateway says the money moved. Settle with the order itself as the
	// proof of record; there is no widget signature on this path.
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	result, err := tx.Exec(`
		UPDATE payout_batches
		SET status = $1, payment_ref = $2, settled_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5`,
		models.BatchSettled, "reconciled:"+order.ID, now, batchID, models.BatchOrdered)
	if err != nil {
		return nil, err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return s.GetBatch(batchID)
	}

	for _, item := range batch.Items {
		if _, err := s.ledger.ApplyEntryTx(tx, item.AccountID, models.AssetCurrency, -item.Amount, models.ReasonSalaryPayout, batch.ID); err != nil {
			return nil, fmt.Errorf("debit %s: %w", item.AccountID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	batch.Status = models.BatchSettled
	batch.SettledAt = &now
	log.Printf("[PAYOUT] Batch %s settled by reconciliation against order %s", batchID, order.ID)
	return batch, nil
}

// GetBatch loads a batch with its items.
func (s *PayoutService) GetBatch(batchID string) (*models.PayoutBatch, error) {
	var batch models.PayoutBatch
	var orderRef, paymentRef sql.NullString
	var settledAt sql.NullTime

	err := s.db.QueryRow(`
		SELECT id, status, total_amount, currency, order_ref, payment_ref, created_by, created_at, updated_at, settled_at
		FROM payout_batches
		WHERE id = $1`, batchID).Scan(
		&batch.ID, &batch.Status, &batch.TotalAmount, &batch.Currency,
		&orderRef, &paymentRef, &batch.CreatedBy, &batch.CreatedAt, &batch.UpdatedAt, &settledAt)
	if err != nil {
		return nil, err
	}
	batch.OrderRef = orderRef.String
	batch.PaymentRef = paymentRef.String
	if settledAt.Valid {
		batch.SettledAt = &settledAt.Time
	}

	rows, err := s.db.Query(`
		SELECT batch_id, account_id, name, email, amount, account_no, ifsc_code
		FROM payout_items
		WHERE batch_id = $1
		ORDER BY account_id`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item models.PayoutItem
		if err := rows.Scan(&item.BatchID, &item.AccountID, &item.Name, &item.Email,
			&item.Amount, &item.AccountNo, &item.IFSCCode); err != nil {
			return nil, err
		}
		batch.Items = append(batch.Items, item)
	}
	return &batch, rows.Err()
}

// ListBatches returns recent batches for the admin payment history view.
func (s *PayoutService) ListBatches(limit int) ([]models.PayoutBatch, error) {
	rows, err := s.db.Query(`
		SELECT id, status, total_amount, currency, order_ref, payment_ref, created_by, created_at, updated_at, settled_at
		FROM payout_batches
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := []models.PayoutBatch{}
	for rows.Next() {
		var batch models.PayoutBatch
		var orderRef, paymentRef sql.NullString
		var settledAt sql.NullTime
		if err := rows.Scan(&batch.ID, &batch.Status, &batch.TotalAmount, &batch.Currency,
			&orderRef, &paymentRef, &batch.CreatedBy, &batch.CreatedAt, &batch.UpdatedAt, &settledAt); err != nil {
			return nil, err
		}
		batch.OrderRef = orderRef.String
		batch.PaymentRef = paymentRef.String
		if settledAt.Valid {
			batch.SettledAt = &settledAt.Time
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}
