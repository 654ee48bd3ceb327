package refund

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"payrecon/internal/common/api"
	"payrecon/internal/common/database"
	"payrecon/internal/common/middleware"
	"payrecon/internal/common/money"
	"payrecon/internal/identity"
	"payrecon/internal/ledger/domain"
)

// Handler handles refund HTTP requests
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new refund handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes returns the refund routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(middleware.RequireRole(identity.RoleUser)).Post("/", h.Request)
	r.With(middleware.RequireRole(identity.RoleAdmin)).Post("/actions", h.Action)
	return r
}

// RefundRequest is the body of POST /refunds
type RefundRequest struct {
	BookingID string  `json:"bookingId" validate:"required"`
	Amount    float64 `json:"amount,omitempty" validate:"gte=0"`
	Reason    string  `json:"reason" validate:"required,max=2000"`
}

// ActionRequest is the body of POST /refunds/actions
type ActionRequest struct {
	RefundID string `json:"refundId" validate:"required"`
	Action   string `json:"action" validate:"required"`
}

// ActionResponse reports the refund's new status
type ActionResponse struct {
	Success         bool   `json:"success"`
	Status          string `json:"status"`
	GatewayRefundID string `json:"gatewayRefundId,omitempty"`
}

// Request handles POST /refunds
func (h *Handler) Request(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if !decode(w, r, &req) {
		return
	}
	actor, _ := middleware.GetActor(r.Context())

	var amount money.Money
	if req.Amount > 0 {
		amount = money.NewFromMajor(req.Amount, money.Default)
	}
	refund, err := h.service.RequestRefund(r.Context(), actor, Request{
		BookingID: req.BookingID,
		Amount:    amount,
		Reason:    req.Reason,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusCreated, refund)
}

// Action handles POST /refunds/actions
func (h *Handler) Action(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if !decode(w, r, &req) {
		return
	}
	action, err := ParseAction(req.Action)
	if err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	actor, _ := middleware.GetActor(r.Context())

	refund, err := h.service.Decide(r.Context(), actor, req.RefundID, action)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, ActionResponse{
		Success:         true,
		Status:          string(refund.Status),
		GatewayRefundID: refund.GatewayRefundID,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		api.Forbidden(w, "not your booking")
	case errors.Is(err, ErrRefundOpen):
		api.Conflict(w, err.Error())
	case errors.Is(err, domain.ErrRefundNotPending):
		api.InvalidTransition(w, err.Error())
	case errors.Is(err, database.ErrConflict):
		api.Conflict(w, "refund was modified concurrently")
	case errors.Is(err, ErrNotPaid), errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrUnknownAction):
		api.BadRequest(w, err.Error())
	case errors.Is(err, ErrGateway):
		api.BadGateway(w, "gateway refund failed")
	case database.IsNotFound(err):
		api.NotFound(w, "not found")
	default:
		h.logger.Error("refund request failed", "error", err)
		api.InternalError(w, "refund request failed")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := api.DecodeAndValidate(r, v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		api.ValidationError(w, err)
	} else {
		api.BadRequest(w, "invalid request body")
	}
	return false
}
