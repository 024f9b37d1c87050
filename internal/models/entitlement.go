package models

import "time"

// PaymentMethod selects which balance pays for an unlock.
type PaymentMethod string

const (
	PayWithMoney  PaymentMethod = "money"
	PayWithPoints PaymentMethod = "points"
)

// Entitlement grants an account access to one paid module. At most one
// active entitlement exists per (account, module) pair; creation is atomic
// with the debit that paid for it.
type Entitlement struct {
	ID            int           `json:"id" db:"id"`
	AccountID     string        `json:"account_id" db:"account_id"`
	ModuleID      string        `json:"module_id" db:"module_id"`
	CourseID      string        `json:"course_id" db:"course_id"`
	PricePaid     int64         `json:"price_paid" db:"price_paid"`
	Method        PaymentMethod `json:"payment_method" db:"payment_method"`
	CorrelationID string        `json:"correlation_id" db:"correlation_id"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

// Module is one paid unit of a course. Price is whole rupees.
type Module struct {
	ID       string `json:"id" db:"id"`
	CourseID string `json:"courseId" db:"course_id"`
	Title    string `json:"title" db:"title"`
	Price    int64  `json:"price" db:"price"`
	Position int    `json:"position" db:"position"`
}

type Course struct {
	ID          string `json:"id" db:"id"`
	Title       string `json:"title" db:"title"`
	TeacherID   string `json:"teacherId" db:"teacher_id"`
	Description string `json:"description" db:"description"`
	ModuleCount int    `json:"moduleCount" db:"module_count"`
}
