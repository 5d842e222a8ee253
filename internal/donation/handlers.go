package donation

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-donasi/internal/common"
)

// Handler exposes the public checkout endpoints and the admin donation views.
type Handler struct {
	Service  *Service
	Checkout CheckoutConfig
	Logger   zerolog.Logger
}

// CheckoutConfigHandler handles GET /api/v1/donations/checkout-config.
func (h *Handler) CheckoutConfigHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	common.JSON(w, http.StatusOK, h.Checkout)
}

// CreateOrder handles POST /api/v1/donations/orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSON(w, http.StatusBadRequest, CreateOrderResponse{Error: "invalid request payload", Code: CodeBadRequest})
		return
	}
	amount, err := ParseAmount(string(req.Amount))
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	order, err := h.Service.CreateOrder(r.Context(), Intent{
		Amount:  amount,
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Purpose: req.Purpose,
	})
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, CreateOrderResponse{Success: true, Order: &order})
}

// VerifyPayment handles POST /api/v1/donations/verify.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req VerifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSON(w, http.StatusBadRequest, VerifyPaymentResponse{Error: "invalid request payload", Code: CodeBadRequest})
		return
	}
	// The claimed amount is informational only; a malformed value must not
	// block recording a genuine payment.
	claimed, _ := ParseAmount(string(req.Amount))
	result, err := h.Service.VerifyPayment(r.Context(), Verification{
		PaymentID:   req.PaymentID,
		OrderID:     req.OrderID,
		Signature:   req.Signature,
		DonorName:   req.DonorName,
		DonorEmail:  req.DonorEmail,
		DonorPhone:  req.DonorPhone,
		Amount:      claimed,
		Purpose:     req.Purpose,
		IsAnonymous: req.IsAnonymous,
	})
	if err != nil {
		h.writeVerifyError(w, req.PaymentID, result, err)
		return
	}
	common.JSON(w, http.StatusOK, VerifyPaymentResponse{
		Success:   true,
		Message:   "payment verified",
		PaymentID: result.PaymentID,
		Amount:    result.Amount,
	})
}

// List handles GET /api/v1/admin/donations.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 20, 100)
	records, total, err := h.Service.List(r.Context(), ListFilter{
		Status: PaymentStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))),
		Limit:  perPage,
		Offset: common.Offset(page, perPage),
	})
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			common.JSONError(w, http.StatusBadRequest, CodeValidation, verr.Message, map[string]string{"field": verr.Field})
			return
		}
		h.Logger.Error().Err(err).Msg("donation_list_failed")
		common.JSONError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
		return
	}
	if records == nil {
		records = []Record{}
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": records,
		"meta": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
	})
}

// Get handles GET /api/v1/admin/donations/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, CodeBadRequest, "invalid donation id", nil)
		return
	}
	rec, err := h.Service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "donation not found", nil)
			return
		}
		h.Logger.Error().Err(err).Str("donation_id", id.String()).Msg("donation_get_failed")
		common.JSONError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rec})
}

func (h *Handler) writeOrderError(w http.ResponseWriter, err error) {
	var (
		verr  *ValidationError
		ocErr *OrderCreationError
	)
	switch {
	case errors.As(err, &verr):
		common.JSON(w, http.StatusBadRequest, CreateOrderResponse{Error: verr.Message, Code: CodeValidation, Field: verr.Field})
	case errors.As(err, &ocErr):
		status := http.StatusBadGateway
		if ocErr.Timeout {
			status = http.StatusGatewayTimeout
		}
		common.JSON(w, status, CreateOrderResponse{Error: "unable to create order, please try again", Code: CodeOrderCreation})
	default:
		h.Logger.Error().Err(err).Msg("donation_order_unexpected_error")
		common.JSON(w, http.StatusInternalServerError, CreateOrderResponse{Error: "internal error", Code: CodeInternal})
	}
}

func (h *Handler) writeVerifyError(w http.ResponseWriter, paymentID string, result VerifyResult, err error) {
	var (
		verr    *ValidationError
		sigErr  *SignatureVerificationError
		persist *PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		common.JSON(w, http.StatusBadRequest, VerifyPaymentResponse{Error: verr.Message, Code: CodeValidation})
	case errors.As(err, &sigErr):
		common.JSON(w, http.StatusUnauthorized, VerifyPaymentResponse{Error: "signature mismatch", Code: CodeSignatureInvalid})
	case errors.Is(err, ErrDuplicateTransaction):
		// the existing record's amount lets a client that lost the first
		// response still confirm the donation
		common.JSON(w, http.StatusConflict, VerifyPaymentResponse{
			Error:     "duplicate transaction",
			Code:      CodeDuplicate,
			PaymentID: paymentID,
			Amount:    result.Amount,
		})
	case errors.As(err, &persist):
		common.JSON(w, http.StatusAccepted, VerifyPaymentResponse{
			Message:   "payment received; confirmation is pending",
			Error:     "donation record pending",
			Code:      CodeRecordPending,
			PaymentID: persist.PaymentID,
		})
	default:
		h.Logger.Error().Err(err).Str("payment_id", paymentID).Msg("donation_verify_unexpected_error")
		common.JSON(w, http.StatusInternalServerError, VerifyPaymentResponse{Error: "internal error", Code: CodeInternal})
	}
}

// WriteRejection renders a middleware rejection (rate limit, body size) in the
// public checkout envelope.
func WriteRejection(w http.ResponseWriter, status int, code, message string) {
	common.JSON(w, status, map[string]any{"success": false, "error": message, "code": code})
}
