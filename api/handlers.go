/*
handlers.go - HTTP API handlers for the installment engine

PURPOSE:
  Exposes sale submission and schedule read-back via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the allocator.

ENDPOINTS:
  Directories:
    GET    /api/customers                  Customers ordered by first name
    GET    /api/withdrawal-policies        Withdrawal-day policies

  Sales:
    POST   /api/sales                      Submit a cash or installment sale
    GET    /api/sales/{id}                 Sale, references and installments
    GET    /api/sales/{id}/installments    Installment schedule only

  Withdrawals:
    GET    /api/withdrawals?date=YYYY-MM-DD  Pending installments due that day
    POST   /api/admin/withdrawal-digest      Run the digest job now

  Scenarios:
    GET    /api/scenarios                  List demo scenarios
    POST   /api/scenarios/load             Load a demo scenario
    POST   /api/scenarios/reset            Clear all data

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Sale not found
  - 500: Store failures; partial submissions carry code
         "partial_submission" with the failing step and orphaned ids

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/installments/installment"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is everything the handlers read and write. The SQLite, PostgreSQL
// and memory stores all satisfy it.
type Backend interface {
	installment.Store
	installment.Reader
	installment.CustomerDirectory
	installment.PolicyDirectory
	installment.DirectoryWriter
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Backend
	Allocator *installment.Allocator
	Scheduler *WithdrawalScheduler
	Logger    *zap.Logger
}

// NewHandler creates a handler. scheduler may be nil.
func NewHandler(store Backend, allocator *installment.Allocator, scheduler *WithdrawalScheduler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:     store,
		Allocator: allocator,
		Scheduler: scheduler,
		Logger:    logger,
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// DIRECTORY HANDLERS
// =============================================================================

// ListCustomers returns all customers ordered by first name.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Store.ListCustomers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list customers", err)
		return
	}

	dtos := make([]CustomerDTO, len(customers))
	for i, c := range customers {
		dtos[i] = toCustomerDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListWithdrawalPolicies returns all policies, flagging the one a sale
// without an explicit policy would use.
func (h *Handler) ListWithdrawalPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Store.ListWithdrawalPolicies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list withdrawal policies", err)
		return
	}

	def, hasDefault := installment.DefaultPolicy(policies)
	dtos := make([]WithdrawalPolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = toPolicyDTO(p, hasDefault && p.ID == def.ID)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// SubmitSale validates and persists a sale through the allocator.
func (h *Handler) SubmitSale(w http.ResponseWriter, r *http.Request) {
	var req SubmitSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in, err := req.toSaleInput()
	if err != nil {
		writeSubmitError(w, err)
		return
	}

	saleID, err := h.Allocator.Submit(r.Context(), in)
	if err != nil {
		writeSubmitError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, SaleCreatedResponse{ID: int64(saleID)})
}

// GetSale returns a sale with its references and installments.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	saleID, ok := parseSaleID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	sale, ok := h.loadSale(ctx, w, saleID)
	if !ok {
		return
	}

	refs, err := h.Store.ListReferences(ctx, saleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list references", err)
		return
	}

	rows, err := h.Store.ListInstallments(ctx, saleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list installments", err)
		return
	}

	writeJSON(w, http.StatusOK, SaleDetailResponse{
		Sale:         toSaleDTO(*sale),
		References:   toReferenceDTOs(refs),
		Installments: toInstallmentDTOs(rows),
	})
}

// ListSaleInstallments returns the installment schedule of a sale.
func (h *Handler) ListSaleInstallments(w http.ResponseWriter, r *http.Request) {
	saleID, ok := parseSaleID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if _, ok := h.loadSale(ctx, w, saleID); !ok {
		return
	}

	rows, err := h.Store.ListInstallments(ctx, saleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list installments", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTOs(rows))
}

// =============================================================================
// WITHDRAWAL HANDLERS
// =============================================================================

// ListWithdrawals returns pending installments due on ?date=YYYY-MM-DD.
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "Missing date parameter (use YYYY-MM-DD)", nil)
		return
	}
	day, err := time.Parse(dateLayout, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	rows, err := h.Store.ListDueInstallments(r.Context(), day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list due installments", err)
		return
	}

	amounts := make([]installment.Amount, len(rows))
	for i, row := range rows {
		amounts[i] = row.Amount
	}

	writeJSON(w, http.StatusOK, WithdrawalsResponse{
		Date:         day.Format(dateLayout),
		Count:        len(rows),
		Total:        int64(installment.Sum(amounts)),
		Installments: toInstallmentDTOs(rows),
	})
}

// TriggerWithdrawalDigest runs the scheduler's digest job immediately.
func (h *Handler) TriggerWithdrawalDigest(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "Withdrawal scheduler not configured", nil)
		return
	}

	digest, err := h.Scheduler.RunNow(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build withdrawal digest", err)
		return
	}
	writeJSON(w, http.StatusOK, digest)
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func parseSaleID(w http.ResponseWriter, r *http.Request) (installment.SaleID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "Invalid sale id", err)
		return 0, false
	}
	return installment.SaleID(id), true
}

func (h *Handler) loadSale(ctx context.Context, w http.ResponseWriter, id installment.SaleID) (*installment.Sale, bool) {
	sale, err := h.Store.GetSale(ctx, id)
	if errors.Is(err, installment.ErrSaleNotFound) {
		writeError(w, http.StatusNotFound, "Sale not found", nil)
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get sale", err)
		return nil, false
	}
	return sale, true
}

// writeSubmitError maps allocator errors onto HTTP responses.
func writeSubmitError(w http.ResponseWriter, err error) {
	var (
		validation *installment.ValidationError
		partial    *installment.PartialSubmissionError
		write      *installment.StoreWriteError
	)

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   validation.Error(),
			Code:    "validation_error",
			Details: map[string]string{"field": validation.Field, "message": validation.Message},
		})
	case errors.As(err, &partial):
		refIDs := make([]int64, len(partial.ReferenceIDs))
		for i, id := range partial.ReferenceIDs {
			refIDs[i] = int64(id)
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "Sale partially recorded",
			Code:  "partial_submission",
			Details: PartialSubmissionDetails{
				Step:         string(partial.Step),
				SaleID:       int64(partial.SaleID),
				ReferenceIDs: refIDs,
				Cause:        partial.Err.Error(),
			},
		})
	case errors.As(err, &write):
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to record sale",
			Code:    "store_write_failed",
			Details: map[string]string{"step": string(write.Step), "cause": write.Err.Error()},
		})
	default:
		writeError(w, http.StatusInternalServerError, "Failed to submit sale", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
