package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/edunest/backend/internal/gateway"
	"github.com/edunest/backend/internal/models"
)

type payoutItemRow struct {
	accountID string
	name      string
	amount    int64
}

func expectGetBatch(sqlMock sqlmock.Sqlmock, batchID, status string, total int64, orderRef any, items []payoutItemRow) {
	sqlMock.ExpectQuery("SELECT id, status, total_amount, currency, order_ref, payment_ref, created_by, created_at, updated_at, settled_at").
		WithArgs(batchID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "total_amount", "currency", "order_ref", "payment_ref", "created_by", "created_at", "updated_at", "settled_at"}).
			AddRow(batchID, status, total, "INR", orderRef, nil, "admin1", time.Now(), time.Now(), nil))

	itemRows := sqlmock.NewRows([]string{"batch_id", "account_id", "name", "email", "amount", "account_no", "ifsc_code"})
	for _, it := range items {
		itemRows.AddRow(batchID, it.accountID, it.name, it.name+"@example.com", it.amount, "123456789012", "SBIN0001234")
	}
	sqlMock.ExpectQuery("SELECT batch_id, account_id, name, email, amount, account_no, ifsc_code").
		WithArgs(batchID).
		WillReturnRows(itemRows)
}

func expectPayeeLookup(sqlMock sqlmock.Sqlmock, accountID, name string, balance int64, accountNo, ifsc string) {
	sqlMock.ExpectQuery("SELECT a.account_id, u.first_name").
		WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "name", "email", "balance", "account_no", "ifsc_code"}).
			AddRow(accountID, name, name+"@example.com", balance, accountNo, ifsc))
}

func newPayoutService(db *sql.DB, gw gateway.Gateway) *PayoutService {
	return NewPayoutService(db, gw, NewLedgerService(db), nil, NewBankService())
}

func TestPayoutService_CreateBatch(t *testing.T) {
	db, sqlMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newPayoutService(db, new(MockGateway))

	t.Run("snapshots eligible teachers and reports the rest", func(t *testing.T) {
		sqlMock.ExpectBegin()
		expectPayeeLookup(sqlMock, "t1", "Asha Verma", 100, "123456789012", "SBIN0001234")
		expectPayeeLookup(sqlMock, "t2", "Ravi Nair", 200, "234567890123", "HDFC0005678")
		expectPayeeLookup(sqlMock, "t3", "Meera Iyer", 50, "345678901234", "ICIC0004321")
		expectPayeeLookup(sqlMock, "t4", "Kiran Das", 400, "", "")

		sqlMock.ExpectExec("INSERT INTO payout_batches").
			WithArgs(sqlmock.AnyArg(), models.BatchDraft, int64(350), "INR", "admin1", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		for i := 0; i < 3; i++ {
			sqlMock.ExpectExec("INSERT INTO payout_items").
				WillReturnResult(sqlmock.NewResult(1, 1))
		}
		sqlMock.ExpectCommit()

		batch, ineligible, err := service.CreateBatch([]string{"t1", "t2", "t3", "t4"}, "admin1")
		assert.NoError(t, err)
		assert.Equal(t, int64(350), batch.TotalAmount)
		assert.Len(t, batch.Items, 3)
		assert.Len(t, ineligible, 1)
		assert.Equal(t, "missing bank details", ineligible[0].Reason)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("bad IFSC is ineligible", func(t *testing.T) {
		sqlMock.ExpectBegin()
		expectPayeeLookup(sqlMock, "t1", "Asha Verma", 100, "123456789012", "XXXX0001234")
		sqlMock.ExpectRollback()

		_, ineligible, err := service.CreateBatch([]string{"t1"}, "admin1")
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.Len(t, ineligible, 1)
		assert.Equal(t, "unrecognized IFSC code", ineligible[0].Reason)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("zero pending salary is ineligible", func(t *testing.T) {
		sqlMock.ExpectBegin()
		expectPayeeLookup(sqlMock, "t1", "Asha Verma", 0, "123456789012", "SBIN0001234")
		sqlMock.ExpectRollback()

		_, ineligible, err := service.CreateBatch([]string{"t1"}, "admin1")
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.Equal(t, "no pending salary", ineligible[0].Reason)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("empty selection", func(t *testing.T) {
		_, _, err := service.CreateBatch(nil, "admin1")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestPayoutService_Submit(t *testing.T) {
	db, sqlMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	t.Run("orders a draft batch", func(t *testing.T) {
		gw := new(MockGateway)
		service := newPayoutService(db, gw)

		expectGetBatch(sqlMock, "batch1", models.BatchDraft, 350, nil, []payoutItemRow{
			{"t1", "Asha Verma", 100}, {"t2", "Ravi Nair", 200}, {"t3", "Meera Iyer", 50},
		})
		gw.On("CreateOrder", mock.Anything, int64(350), "INR", "salary-batch1").
			Return(&gateway.Order{ID: "order_1", Amount: 35000, Currency: "INR", Status: "created"}, nil)
		sqlMock.ExpectExec("UPDATE payout_batches").
			WithArgs(models.BatchOrdered, "order_1", sqlmock.AnyArg(), "batch1", models.BatchDraft).
			WillReturnResult(sqlmock.NewResult(0, 1))

		batch, err := service.Submit(context.Background(), "batch1")
		assert.NoError(t, err)
		assert.Equal(t, models.BatchOrdered, batch.Status)
		assert.Equal(t, "order_1", batch.OrderRef)
		gw.AssertExpectations(t)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("resubmitting an ordered batch places no second order", func(t *testing.T) {
		gw := new(MockGateway)
		service := newPayoutService(db, gw)

		expectGetBatch(sqlMock, "batch1", models.BatchOrdered, 350, "order_1", nil)

		batch, err := service.Submit(context.Background(), "batch1")
		assert.NoError(t, err)
		assert.Equal(t, "order_1", batch.OrderRef)
		gw.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("retries transient gateway failures before an order exists", func(t *testing.T) {
		gw := new(MockGateway)
		service := newPayoutService(db, gw)

		expectGetBatch(sqlMock, "batch1", models.BatchDraft, 350, nil, nil)
		gw.On("CreateOrder", mock.Anything, int64(350), "INR", "salary-batch1").
			Return(nil, gateway.ErrUnavailable).Once()
		gw.On("CreateOrder", mock.Anything, int64(350), "INR", "salary-batch1").
			Return(&gateway.Order{ID: "order_2", Status: "created"}, nil).Once()
		sqlMock.ExpectExec("UPDATE payout_batches").
			WithArgs(models.BatchOrdered, "order_2", sqlmock.AnyArg(), "batch1", models.BatchDraft).
			WillReturnResult(sqlmock.NewResult(0, 1))

		batch, err := service.Submit(context.Background(), "batch1")
		assert.NoError(t, err)
		assert.Equal(t, "order_2", batch.OrderRef)
		gw.AssertExpectations(t)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("rejection is not retried", func(t *testing.T) {
		gw := new(MockGateway)
		service := newPayoutService(db, gw)

		expectGetBatch(sqlMock, "batch1", models.BatchDraft, 350, nil, nil)
		gw.On("CreateOrder", mock.Anything, int64(350), "INR", "salary-batch1").
			Return(nil, gateway.ErrRejected).Once()

		_, err := service.Submit(context.Background(), "batch1")
		assert.ErrorIs(t, err, gateway.ErrRejected)
		gw.AssertExpectations(t)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("abandoned batch cannot be submitted", func(t *testing.T) {
		gw := new(MockGateway)
		service := newPayoutService(db, gw)

		expectGetBatch(sqlMock, "batch1", models.BatchAbandoned, 350, nil, nil)

		_, err := service.Submit(context.Background(), "batch1")
		assert.ErrorIs(t, err, ErrBatchAbandoned)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})
}

func TestPayoutService_Confirm(t *testing.T) {
	db, sqlMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	proof := &models.VerificationProof{OrderID: "order_1", PaymentID: "pay_1", Signature: "sig"}

	t.Run("valid proof settles and debits every payee once", func(t *testing.T) {
		gw := new(MockGateway)
		service := newPayoutService(db, gw)

		expectGetBatch(sqlMock, "batch1", models.BatchOrdered, 300, "order_1", []payoutItemRow{
			{"t1", "Asha Verma", 100}, {"t2", "Ravi Nair", 200},
		})
		gw.On("VerifySignature", "order_1", "pay_1", "sig").Return(true)

		sqlMock.ExpectBegin()
		sqlMock.ExpectExec("UPDATE payout_batches").
			WithArgs(models.BatchSettled, "pay_1", sqlmock.AnyArg(), "batch1", models.BatchOrdered).
			WillReturnResult(sqlmock.NewResult(0, 1))

		expectLockAccount(sqlMock, "t1", 100, 0, 1)
		sqlMock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("t1", models.AssetCurrency, "DEBIT", int64(-100), int64(0), models.ReasonSalaryPayout, "batch1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
		sqlMock.ExpectExec("UPDATE accounts").
			WithArgs(int64(0), sqlmock.AnyArg(), "t1", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		expectLockAccount(sqlMock, "t2", 200, 0, 1)
		sqlMock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("t2", models.AssetCurrency, "DEBIT", int64(-200), int64(0), models.ReasonSalaryPayout, "batch1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
		sqlMock.ExpectExec("UPDATE accounts").
			WithArgs(int64(0), sqlmock.AnyArg(), "t2", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		sqlMock.ExpectCommit()

		batch, err := service.Confirm("batch1", proof)
		assert.NoError(t, err)
		assert.Equal(t, models.BatchSettled, batch.Status)
		assert.Equal(t, "pay_1", batch.PaymentRef)
		gw.AssertExpectations(t)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("invalid proof fails the batch without touching balances", func(t *testing.T) {
		gw := new(MockGateway)
		service := newPayoutService(db, gw)

		expectGetBatch(sqlMock, "batch1", models.BatchOrdered, 300, "order_1", []payoutItemRow{
			{"t1", "Asha Verma", 100},
		})
		gw.On("VerifySignature", "order_1", "pay_1", "sig").Return(false)
		sqlMock.ExpectExec("UPDATE payout_batches").
			WithArgs(models.BatchFailed, sqlmock.AnyArg(), "batch1", models.BatchOrdered).
			WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := service.Confirm("batch1", proof)
		assert.ErrorIs(t, err, ErrVerificationFailed)
		gw.AssertExpectations(t)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("proof for the wrong order fails the batch", func(t *testing.T) {
		gw := new(MockGateway)
		service := newPayoutService(db, gw)

		expectGetBatch(sqlMock, "batch1", models.BatchOrdered, 300, "order_other", nil)
		sqlMock.ExpectExec("UPDATE payout_batches").
			WithArgs(models.BatchFailed, sqlmock.AnyArg(), "batch1", models.BatchOrdered).
			WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := service.Confirm("batch1", proof)
		assert.ErrorIs(t, err, ErrVerificationFailed)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("duplicate confirm of a settled batch is a no-op", func(t *testing.T) {
		gw := new(MockGateway)
		service := newPayoutService(db, gw)

		expectGetBatch(sqlMock, "batch1", models.BatchSettled, 300, "order_1", nil)

		batch, err := service.Confirm("batch1", proof)
		assert.NoError(t, err)
		assert.Equal(t, models.BatchSettled, batch.Status)
		gw.AssertNotCalled(t, "VerifySignature", mock.Anything, mock.Anything, mock.Anything)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("abandoned batch rejects any proof", func(t *testing.T) {
		gw := new(MockGateway)
		service := newPayoutService(db, gw)

		expectGetBatch(sqlMock, "batch1", models.BatchAbandoned, 300, "order_1", nil)

		_, err := service.Confirm("batch1", proof)
		assert.ErrorIs(t, err, ErrBatchAbandoned)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("draft batch has nothing to confirm", func(t *testing.T) {
		gw := new(MockGateway)
		service := newPayoutService(db, gw)

		expectGetBatch(sqlMock, "batch1", models.BatchDraft, 300, nil, nil)

		_, err := service.Confirm("batch1", proof)
		assert.ErrorIs(t, err, ErrVerificationFailed)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})
}

func TestPayoutService_ConfirmByOrder(t *testing.T) {
	db, sqlMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newPayoutService(db, new(MockGateway))

	sqlMock.ExpectQuery("SELECT id FROM payout_batches").
		WithArgs("order_unknown").
		WillReturnError(sql.ErrNoRows)

	_, err = service.ConfirmByOrder(&models.VerificationProof{OrderID: "order_unknown", PaymentID: "pay_1", Signature: "sig"})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestPayoutService_Abandon(t *testing.T) {
	db, sqlMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newPayoutService(db, new(MockGateway))

	t.Run("ordered batch can be abandoned", func(t *testing.T) {
		sqlMock.ExpectExec("UPDATE payout_batches").
			WithArgs(models.BatchAbandoned, sqlmock.AnyArg(), "batch1", models.BatchDraft, models.BatchOrdered).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectGetBatch(sqlMock, "batch1", models.BatchAbandoned, 350, "order_1", nil)

		batch, err := service.Abandon("batch1")
		assert.NoError(t, err)
		assert.Equal(t, models.BatchAbandoned, batch.Status)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("settled batch cannot be abandoned", func(t *testing.T) {
		sqlMock.ExpectExec("UPDATE payout_batches").
			WithArgs(models.BatchAbandoned, sqlmock.AnyArg(), "batch1", models.BatchDraft, models.BatchOrdered).
			WillReturnResult(sqlmock.NewResult(0, 0))
		expectGetBatch(sqlMock, "batch1", models.BatchSettled, 350, "order_1", nil)

		_, err := service.Abandon("batch1")
		assert.ErrorIs(t, err, ErrConcurrentModification)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})
}

func TestPayoutService_Reconcile(t *testing.T) {
	db, sqlMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	t.Run("paid order settles the batch", func(t *testing.T) {
		gw := new(MockGateway)
		service := newPayoutService(db, gw)

		expectGetBatch(sqlMock, "batch1", models.BatchOrdered, 100, "order_1", []payoutItemRow{
			{"t1", "Asha Verma", 100},
		})
		gw.On("FetchOrder", mock.Anything, "order_1").
			Return(&gateway.Order{ID: "order_1", Status: "paid"}, nil)

		sqlMock.ExpectBegin()
		sqlMock.ExpectExec("UPDATE payout_batches").
			WithArgs(models.BatchSettled, "reconciled:order_1", sqlmock.AnyArg(), "batch1", models.BatchOrdered).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectLockAccount(sqlMock, "t1", 100, 0, 1)
		sqlMock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(20))
		sqlMock.ExpectExec("UPDATE accounts").
			WillReturnResult(sqlmock.NewResult(1, 1))
		sqlMock.ExpectCommit()

		batch, err := service.Reconcile(context.Background(), "batch1")
		assert.NoError(t, err)
		assert.Equal(t, models.BatchSettled, batch.Status)
		gw.AssertExpectations(t)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("unpaid order leaves the batch ordered", func(t *testing.T) {
		gw := new(MockGateway)
		service := newPayoutService(db, gw)

		expectGetBatch(sqlMock, "batch1", models.BatchOrdered, 100, "order_1", nil)
		gw.On("FetchOrder", mock.Anything, "order_1").
			Return(&gateway.Order{ID: "order_1", Status: "created"}, nil)

		batch, err := service.Reconcile(context.Background(), "batch1")
		assert.NoError(t, err)
		assert.Equal(t, models.BatchOrdered, batch.Status)
		gw.AssertExpectations(t)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})
}

func TestPayoutService_PendingSalaries(t *testing.T) {
	db, sqlMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newPayoutService(db, new(MockGateway))

	sqlMock.ExpectQuery("SELECT a.account_id, u.first_name").
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "name", "email", "balance", "account_no", "ifsc_code"}).
			AddRow("t2", "Ravi Nair", "ravi@example.com", 200, "234567890123", "HDFC0005678").
			AddRow("t1", "Asha Verma", "asha@example.com", 100, "123456789012", "SBIN0001234"))

	total, teachers, err := service.PendingSalaries()
	assert.NoError(t, err)
	assert.Equal(t, int64(300), total)
	assert.Len(t, teachers, 2)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}
