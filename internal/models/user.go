package models

import "time"

// User roles.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

type User struct {
	ID        int    `json:"id" example:"1"`                   // User ID
	Email     string `json:"email" example:"user@example.com"` // User email
	FirstName string `json:"FirstName" example:"Asha"`         // User first name
	LastName  string `json:"LastName" example:"Verma"`         // User last name
	Role      string `json:"role" example:"student"`           // student, teacher or admin
	AccountID string `json:"AccountId" example:"1234567890"`   // Ledger account ID
	CreatedAt time.Time
	UpdatedAt time.Time
}
