package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edunest/backend/internal/gateway"
	"github.com/edunest/backend/internal/models"
	"github.com/edunest/backend/internal/services"
)

type PayoutHandler struct {
	service   *services.PayoutService
	validator *services.ValidationHelper
}

func NewPayoutHandler(service *services.PayoutService) *PayoutHandler {
	return &PayoutHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// TotalPendingSalary lists teachers with unpaid salary
// @Summary Get total pending salary
// @Description Total owed to teachers plus the per-teacher breakdown
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{totalPendingSalary=int64,teachers=[]models.TeacherSalary}
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/total-pending-salary [get]
func (h *PayoutHandler) TotalPendingSalary(w http.ResponseWriter, r *http.Request) {
	total, teachers, err := h.service.PendingSalaries()
	if err != nil {
		log.Printf("[ADMIN] Pending salary lookup failed: %v", err)
		services.SendErrorResponse(w, "Failed to fetch pending salaries", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"totalPendingSalary": total,
		"teachers":           teachers,
	})
}

// PaySalary drafts a payout batch and places the gateway order
// @Summary Start a salary payout
// @Description Snapshot the selected teachers into a batch and create a payment order
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{teacherIds=[]string} true "Teacher account ids to pay"
// @Success 200 {object} object{batch=models.PayoutBatch,order_ref=string,ineligibleTeachers=[]models.IneligiblePayee}
// @Failure 400 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /admin/pay-salary [post]
func (h *PayoutHandler) PaySalary(w http.ResponseWriter, r *http.Request) {
	adminID, _ := r.Context().Value("userID").(string)

	var req struct {
		TeacherIDs []string `json:"teacherIds" validate:"required,min=1,dive,required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	batch, ineligible, err := h.service.CreateBatch(req.TeacherIDs, adminID)
	if err != nil {
		if errors.Is(err, services.ErrInvalidAmount) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{
				"success":            false,
				"message":            "No eligible teachers to pay",
				"ineligibleTeachers": ineligible,
			})
			return
		}
		log.Printf("[ADMIN] Batch creation failed: %v", err)
		services.SendErrorResponse(w, "Failed to create payout batch", http.StatusInternalServerError, nil)
		return
	}

	ordered, err := h.service.Submit(r.Context(), batch.ID)
	if err != nil {
		if errors.Is(err, gateway.ErrUnavailable) {
			services.SendErrorResponse(w, "Payment gateway unavailable, batch saved as draft", http.StatusBadGateway, nil)
		} else if errors.Is(err, gateway.ErrRejected) {
			services.SendErrorResponse(w, "Payment gateway rejected the order", http.StatusBadRequest, nil)
		} else {
			log.Printf("[ADMIN] Batch %s submit failed: %v", batch.ID, err)
			services.SendErrorResponse(w, "Failed to place payment order", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":            true,
		"batch":              ordered,
		"order_ref":          ordered.OrderRef,
		"ineligibleTeachers": ineligible,
	})
}

// VerifyPayment settles a payout batch with the checkout proof
// @Summary Verify a salary payment
// @Description Verify the processor's proof and debit the paid teachers
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.VerificationProof true "Processor proof"
// @Success 200 {object} object{batch=models.PayoutBatch}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 410 {object} services.ErrorResponse
// @Router /admin/verify-payment [post]
func (h *PayoutHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var proof models.VerificationProof

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&proof); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&proof); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	batch, err := h.service.ConfirmByOrder(&proof)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			services.SendErrorResponse(w, "No payout batch for that order", http.StatusNotFound, nil)
		case errors.Is(err, services.ErrBatchAbandoned):
			services.SendErrorResponse(w, "Payout batch was abandoned", http.StatusGone, nil)
		case errors.Is(err, services.ErrVerificationFailed):
			services.SendErrorResponse(w, "Payment verification failed", http.StatusBadRequest, nil)
		default:
			log.Printf("[ADMIN] Payment verification failed for order %s: %v", proof.OrderID, err)
			services.SendErrorResponse(w, "Failed to verify payment", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"batch":   batch,
	})
}

// AbandonBatch retires a payout batch that will never settle
// @Summary Abandon a payout batch
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param batchId path string true "Batch ID"
// @Success 200 {object} object{batch=models.PayoutBatch}
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/payout/{batchId}/abandon [post]
func (h *PayoutHandler) AbandonBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchId")

	batch, err := h.service.Abandon(batchID)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			services.SendErrorResponse(w, "Payout batch not found", http.StatusNotFound, nil)
		case errors.Is(err, services.ErrConcurrentModification):
			services.SendErrorResponse(w, "Batch can no longer be abandoned", http.StatusConflict, nil)
		default:
			log.Printf("[ADMIN] Abandon failed for batch %s: %v", batchID, err)
			services.SendErrorResponse(w, "Failed to abandon batch", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"batch":   batch,
	})
}

// ReconcileBatch checks the gateway for a batch whose proof never arrived
// @Summary Reconcile an ordered batch
// @Description Ask the gateway whether the order was paid and settle if so
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param batchId path string true "Batch ID"
// @Success 200 {object} object{batch=models.PayoutBatch}
// @Failure 404 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /admin/payout/{batchId}/reconcile [post]
func (h *PayoutHandler) ReconcileBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchId")

	batch, err := h.service.Reconcile(r.Context(), batchID)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			services.SendErrorResponse(w, "Payout batch not found", http.StatusNotFound, nil)
		case errors.Is(err, gateway.ErrUnavailable):
			services.SendErrorResponse(w, "Payment gateway unavailable", http.StatusBadGateway, nil)
		default:
			log.Printf("[ADMIN] Reconcile failed for batch %s: %v", batchID, err)
			services.SendErrorResponse(w, "Failed to reconcile batch", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"batch":   batch,
	})
}

// PaymentHistory lists recent payout batches
// @Summary Admin payment history
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{batches=[]models.PayoutBatch,count=int}
// @Router /admin/payment-history [get]
func (h *PayoutHandler) PaymentHistory(w http.ResponseWriter, r *http.Request) {
	batches, err := h.service.ListBatches(50)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch payment history", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"batches": batches,
		"count":   len(batches),
	})
}
