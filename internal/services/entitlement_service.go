package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/edunest/backend/internal/models"
)

// EntitlementService grants paid-module access. The debit and the
// entitlement insert share one database transaction, so a debit can never
// exist without its grant.
type EntitlementService struct {
	db         *sql.DB
	ledger     *LedgerService
	conversion *ConversionPolicy
	validator  *ValidationHelper
}

func NewEntitlementService(db *sql.DB, ledger *LedgerService, conversion *ConversionPolicy) *EntitlementService {
	return &EntitlementService{
		db:         db,
		ledger:     ledger,
		conversion: conversion,
		validator:  NewValidationHelper(),
	}
}

// Unlock debits the chosen balance, credits the course's teacher and
// grants access to a module, all in one transaction. The module's price
// comes from the catalog row, never from the caller.
func (s *EntitlementService) Unlock(accountID, moduleID string, method models.PaymentMethod) (*models.Entitlement, error) {
	module, err := s.fetchModule(moduleID)
	if err != nil {
		return nil, err
	}

	if exists, err := s.hasEntitlement(accountID, moduleID); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrAlreadyEntitled
	}

	var asset models.Asset
	var charge int64
	switch method {
	case models.PayWithMoney:
		asset, charge = models.AssetCurrency, module.Price
	case models.PayWithPoints:
		asset, charge = models.AssetPoints, s.conversion.PointsPrice(module.Price)
	default:
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	correlationID := uuid.New().String()

	if _, err := s.ledger.ApplyEntryTx(tx, accountID, asset, -charge, models.ReasonModuleUnlock, correlationID); err != nil {
		return nil, err
	}

	// The sale accrues as the teacher's pending salary, always in currency
	// whatever the student paid with.
	var teacherAccount string
	if err := tx.QueryRow(`
		SELECT teacher_id FROM courses WHERE id = $1`, module.CourseID).Scan(&teacherAccount); err != nil {
		return nil, err
	}
	if _, err := s.ledger.ApplyEntryTx(tx, teacherAccount, models.AssetCurrency, module.Price, models.ReasonCourseSale, correlationID); err != nil {
		return nil, err
	}

	entitlement := &models.Entitlement{
		AccountID:     accountID,
		ModuleID:      moduleID,
		CourseID:      module.CourseID,
		PricePaid:     charge,
		Method:        method,
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
	}

	err = tx.QueryRow(`
		INSERT INTO entitlements (account_id, module_id, course_id, price_paid, payment_method, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		entitlement.AccountID, entitlement.ModuleID, entitlement.CourseID,
		entitlement.PricePaid, entitlement.Method, entitlement.CorrelationID, entitlement.CreatedAt).Scan(&entitlement.ID)
	if err != nil {
		// Unique violation means another request won the race; rolling back
		// undoes the debit, so no stuck payment is possible.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrAlreadyEntitled
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[ENTITLEMENT] Module %s unlocked for account %s via %s, charged %d", moduleID, accountID, method, charge)
	return entitlement, nil
}

// UnlockModule unlocks a paid module for the authenticated student
// @Summary Unlock a module
// @Description Debit the chosen balance and grant access to a paid module
// @Tags student
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{moduleId=string,paymentMethod=string} true "Unlock request"
// @Success 201 {object} models.Entitlement
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /student/unlock-module [post]
func (s *EntitlementService) UnlockModule(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromContext(r, s.db)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		ModuleID      string `json:"moduleId" validate:"required"`
		PaymentMethod string `json:"paymentMethod" validate:"required,oneof=money points"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	entitlement, err := s.Unlock(accountID, req.ModuleID, models.PaymentMethod(req.PaymentMethod))
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyEntitled):
			// Not an error to the caller beyond signaling: the module is
			// accessible either way.
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"message": "Module already unlocked",
			})
		case errors.Is(err, ErrInsufficientFunds):
			SendErrorResponse(w, "Insufficient balance", http.StatusPaymentRequired, nil)
		case errors.Is(err, sql.ErrNoRows):
			SendErrorResponse(w, "Module not found", http.StatusNotFound, nil)
		default:
			log.Printf("[ENTITLEMENT] Unlock failed for account %s, module %s: %v", accountID, req.ModuleID, err)
			SendErrorResponse(w, "Failed to unlock module", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"entitlement": entitlement,
	})
}

// ListEntitlements returns the student's unlocked modules
// @Summary List unlocked modules
// @Tags student
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{entitlements=[]models.Entitlement,count=int}
// @Router /student/entitlements [get]
func (s *EntitlementService) ListEntitlements(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromContext(r, s.db)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := s.db.Query(`
		SELECT id, account_id, module_id, course_id, price_paid, payment_method, correlation_id, created_at
		FROM entitlements
		WHERE account_id = $1
		ORDER BY created_at DESC`, accountID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch entitlements", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	entitlements := []models.Entitlement{}
	for rows.Next() {
		var e models.Entitlement
		if err := rows.Scan(&e.ID, &e.AccountID, &e.ModuleID, &e.CourseID,
			&e.PricePaid, &e.Method, &e.CorrelationID, &e.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch entitlements", http.StatusInternalServerError, nil)
			return
		}
		entitlements = append(entitlements, e)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"entitlements": entitlements,
		"count":        len(entitlements),
	})
}

func (s *EntitlementService) fetchModule(moduleID string) (*models.Module, error) {
	var m models.Module
	err := s.db.QueryRow(`
		SELECT id, course_id, title, price, position FROM modules
		WHERE id = $1`, moduleID).Scan(&m.ID, &m.CourseID, &m.Title, &m.Price, &m.Position)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *EntitlementService) hasEntitlement(accountID, moduleID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM entitlements
			WHERE account_id = $1 AND module_id = $2
		)`, accountID, moduleID).Scan(&exists)
	return exists, err
}
