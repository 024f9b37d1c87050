package services

import (
	"database/sql"
	"log"
	"net/http"
)

// AccountIDFromContext resolves the authenticated user's ledger account id.
// The auth middleware puts the numeric user id on the request context; the
// account id is what the ledger keys on.
func AccountIDFromContext(r *http.Request, db *sql.DB) (string, bool) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		return "", false
	}

	var accountID string
	err := db.QueryRow(`
		SELECT account_id FROM users WHERE id = $1::integer`, userID).Scan(&accountID)
	if err != nil {
		log.Printf("[AUTH] Account lookup failed for user %s: %v", userID, err)
		return "", false
	}
	return accountID, true
}

// RoleFromContext returns the role claim set by the auth middleware.
func RoleFromContext(r *http.Request) string {
	role, _ := r.Context().Value("role").(string)
	return role
}
