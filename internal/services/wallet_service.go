package services

import (
	"bytes"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/edunest/backend/internal/gateway"
	"github.com/edunest/backend/internal/models"
)

const topupTTL = 30 * time.Minute

// WalletService is the student-facing surface over the ledger: balance
// reads, gateway top-ups, currency-to-points conversion and the payment
// history view. All mutations go through LedgerService.
type WalletService struct {
	db         *sql.DB
	redis      *redis.Client
	gateway    gateway.Gateway
	ledger     *LedgerService
	conversion *ConversionPolicy
	validator  *ValidationHelper
}

func NewWalletService(db *sql.DB, redisClient *redis.Client, gw gateway.Gateway, ledger *LedgerService, conversion *ConversionPolicy) *WalletService {
	return &WalletService{
		db:         db,
		redis:      redisClient,
		gateway:    gw,
		ledger:     ledger,
		conversion: conversion,
		validator:  NewValidationHelper(),
	}
}

// PointsBalance returns the student's currency and points balances
// @Summary Get points and balance
// @Tags student
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Balance
// @Failure 401 {object} ErrorResponse
// @Router /student/points-balance [get]
func (s *WalletService) PointsBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromContext(r, s.db)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := s.ledger.GetBalance(accountID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balance)
}

// AddBalance creates a gateway top-up order for the student
// @Summary Start a balance top-up
// @Description Create a payment order with the processor and return it with a QR code
// @Tags student
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64} true "Top-up amount in rupees"
// @Success 200 {object} object{order=gateway.Order,qrImage=string}
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /student/add-balance [post]
func (s *WalletService) AddBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromContext(r, s.db)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount int64 `json:"amount" validate:"required,gt=0,max=1000000"`
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

	order, err := s.gateway.CreateOrder(r.Context(), req.Amount, "INR", "topup-"+uuid.New().String())
	if err != nil {
		log.Printf("[WALLET] Top-up order creation failed for account %s: %v", accountID, err)
		if errors.Is(err, gateway.ErrUnavailable) {
			SendErrorResponse(w, "Payment gateway unavailable, try again later", http.StatusBadGateway, nil)
		} else {
			SendErrorResponse(w, "Payment gateway rejected the order", http.StatusBadRequest, nil)
		}
		return
	}

	pending, _ := json.Marshal(map[string]any{
		"accountId": accountID,
		"amount":    req.Amount,
	})
	if err := s.redis.Set(r.Context(), topupKey(order.ID), pending, topupTTL).Err(); err != nil {
		log.Printf("[WALLET] Failed to store pending top-up %s: %v", order.ID, err)
		SendErrorResponse(w, "Failed to start top-up", http.StatusInternalServerError, nil)
		return
	}

	qrImage, err := s.topupQR(order.ID)
	if err != nil {
		log.Printf("[WALLET] QR generation failed for order %s: %v", order.ID, err)
		// The checkout widget still works without the QR.
		qrImage = ""
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"order":   order,
		"qrImage": qrImage,
	})
}

// VerifyTopUp confirms a top-up with the processor's proof and credits the ledger
// @Summary Verify a balance top-up
// @Tags student
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.VerificationProof true "Processor proof"
// @Success 200 {object} object{success=bool,balance=int64}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /student/verify-topup [post]
func (s *WalletService) VerifyTopUp(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromContext(r, s.db)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var proof models.VerificationProof

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&proof); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&proof); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if !s.gateway.VerifySignature(proof.OrderID, proof.PaymentID, proof.Signature) {
		log.Printf("[WALLET] Top-up verification failed for order %s", proof.OrderID)
		SendErrorResponse(w, "Payment verification failed", http.StatusBadRequest, nil)
		return
	}

	// Duplicate callback: the credit already exists, report success without
	// crediting twice.
	if done, err := s.ledger.HasEntry(models.ReasonBalanceTopUp, proof.OrderID); err == nil && done {
		balance, _ := s.ledger.GetBalance(accountID)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"message": "Top-up already processed",
			"balance": balance.Currency,
		})
		return
	}

	data, err := s.redis.Get(r.Context(), topupKey(proof.OrderID)).Bytes()
	if err == redis.Nil {
		// The pending record expired; the widget callback is an unreliable
		// notifier, so reconcile against processor state before refusing.
		order, ferr := s.gateway.FetchOrder(r.Context(), proof.OrderID)
		if ferr != nil || order.Status != "paid" {
			SendErrorResponse(w, "Top-up expired or unknown, contact support", http.StatusBadRequest, nil)
			return
		}
		s.creditTopUp(w, r, accountID, order.Amount/100, proof.OrderID)
		return
	} else if err != nil {
		SendErrorResponse(w, "Failed to verify top-up", http.StatusInternalServerError, nil)
		return
	}

	var pending struct {
		AccountID string `json:"accountId"`
		Amount    int64  `json:"amount"`
	}
	if err := json.Unmarshal(data, &pending); err != nil || pending.AccountID != accountID {
		SendErrorResponse(w, "Payment verification failed", http.StatusBadRequest, nil)
		return
	}

	s.creditTopUp(w, r, accountID, pending.Amount, proof.OrderID)
}

func (s *WalletService) creditTopUp(w http.ResponseWriter, r *http.Request, accountID string, amount int64, orderID string) {
	entry, err := s.ledger.ApplyEntry(accountID, models.AssetCurrency, amount, models.ReasonBalanceTopUp, orderID)
	if err != nil {
		log.Printf("[WALLET] Top-up credit failed for account %s, order %s: %v", accountID, orderID, err)
		SendErrorResponse(w, "Failed to credit balance", http.StatusInternalServerError, nil)
		return
	}

	s.redis.Del(r.Context(), topupKey(orderID))
	log.Printf("[WALLET] Top-up settled: account %s credited %d (order %s)", accountID, amount, orderID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"balance": entry.BalanceAfter,
	})
}

// ConvertPoints converts currency balance into reward points
// @Summary Convert balance to points
// @Tags student
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=number} true "Amount in rupees to convert"
// @Success 200 {object} object{success=bool,points=int64}
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Router /student/convert-points [post]
func (s *WalletService) ConvertPoints(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromContext(r, s.db)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount float64 `json:"amount" validate:"required,gt=0"`
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

	points, err := s.conversion.ToPoints(req.Amount)
	if err != nil || points == 0 {
		SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
		return
	}
	debit := points / s.conversion.RatePointsPerRupee

	tx, err := s.db.Begin()
	if err != nil {
		SendErrorResponse(w, "Failed to convert points", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	correlationID := uuid.New().String()

	if _, err := s.ledger.ApplyEntryTx(tx, accountID, models.AssetCurrency, -debit, models.ReasonPointsConversion, correlationID); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			SendErrorResponse(w, "Insufficient balance", http.StatusPaymentRequired, nil)
		} else {
			SendErrorResponse(w, "Failed to convert points", http.StatusInternalServerError, nil)
		}
		return
	}

	entry, err := s.ledger.ApplyEntryTx(tx, accountID, models.AssetPoints, points, models.ReasonPointsConversion, correlationID)
	if err != nil {
		SendErrorResponse(w, "Failed to convert points", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		SendErrorResponse(w, "Failed to convert points", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[WALLET] Converted %d rupees to %d points for account %s", debit, points, accountID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"points":  entry.BalanceAfter,
	})
}

// PaymentHistory returns the student's ledger trail
// @Summary Get payment history
// @Tags student
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Number of entries (default 50, max 200)"
// @Success 200 {object} object{history=[]models.LedgerEntry,count=int}
// @Router /student/payment-history [get]
func (s *WalletService) PaymentHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromContext(r, s.db)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	history, err := s.ledger.History(accountID, "", limit)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch payment history", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"history": history,
		"count":   len(history),
	})
}

// topupQR renders the order reference as a QR image for UPI-style scanning.
func (s *WalletService) topupQR(orderID string) (string, error) {
	qr, err := qrcode.New(orderID, qrcode.Medium)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func topupKey(orderID string) string {
	return fmt.Sprintf("topup:%s", orderID)
}
