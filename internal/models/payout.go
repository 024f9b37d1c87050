package models

import "time"

// PayoutBatch states. A batch's payee list is frozen when the external
// order is created; settled, failed and abandoned are terminal.
const (
	BatchDraft     = "draft"
	BatchOrdered   = "ordered"
	BatchSettled   = "settled"
	BatchFailed    = "failed"
	BatchAbandoned = "abandoned"
)

type PayoutBatch struct {
	ID          string     `json:"id" db:"id"`
	Status      string     `json:"status" db:"status"`
	TotalAmount int64      `json:"amount" db:"total_amount"`
	Currency    string     `json:"currency" db:"currency"`
	OrderRef    string     `json:"order_ref,omitempty" db:"order_ref"`
	PaymentRef  string     `json:"payment_ref,omitempty" db:"payment_ref"`
	CreatedBy   string     `json:"created_by" db:"created_by"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	SettledAt   *time.Time `json:"settled_at,omitempty" db:"settled_at"`

	Items []PayoutItem `json:"teachersPaid,omitempty"`
}

// PayoutItem is one payee's share of a batch, snapshotted at creation time.
type PayoutItem struct {
	BatchID   string `json:"-" db:"batch_id"`
	AccountID string `json:"account_id" db:"account_id"`
	Name      string `json:"name" db:"name"`
	Email     string `json:"email" db:"email"`
	Amount    int64  `json:"paidAmount" db:"amount"`
	AccountNo string `json:"-" db:"account_no"`
	IFSCCode  string `json:"-" db:"ifsc_code"`
}

// IneligiblePayee is a selected teacher who could not be included in a
// batch, with the reason reported back to the admin console.
type IneligiblePayee struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Reason    string `json:"reason"`
}

// TeacherSalary is one row of the pending-salary listing.
type TeacherSalary struct {
	AccountID     string `json:"_id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	PendingSalary int64  `json:"pendingSalary"`
	AccountNo     string `json:"accountNo,omitempty"`
	IFSCCode      string `json:"ifscCode,omitempty"`
}

// VerificationProof is the processor-supplied settlement proof forwarded by
// the checkout widget. All fields are untrusted input.
type VerificationProof struct {
	OrderID   string `json:"order_id" validate:"required"`
	PaymentID string `json:"payment_id" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}
