package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"payrecon/internal/common/api"
	"payrecon/internal/common/database"
	"payrecon/internal/common/middleware"
	"payrecon/internal/identity"
	"payrecon/internal/ledger"
)

// Handler handles ledger HTTP requests
type Handler struct {
	service *ledger.Service
}

// NewHandler creates a new ledger handler
func NewHandler(service *ledger.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the ledger routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/bookings/{id}", h.GetBooking)
	r.Get("/partners/{partnerID}/bookings", h.ListPartnerBookings)
	r.Get("/payments/{orderID}", h.GetPayment)
	r.Get("/refunds/{id}", h.GetRefund)

	return r
}

// PaymentRoutes returns the client payment routes
func (h *Handler) PaymentRoutes() chi.Router {
	r := chi.NewRouter()
	r.With(middleware.RequireRole(identity.RoleUser)).Post("/verify", h.ConfirmPayment)
	return r
}

// ConfirmPayment handles POST /payments/verify
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req ledger.ConfirmPaymentRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.BadRequest(w, err.Error())
		return
	}

	actor, _ := middleware.GetActor(r.Context())
	b, err := h.service.ConfirmPayment(r.Context(), actor, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, b)
}

// GetBooking handles GET /bookings/{id}
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	b, err := h.service.Booking(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, b)
}

// ListPartnerBookings handles GET /partners/{partnerID}/bookings
func (h *Handler) ListPartnerBookings(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	page := api.GetPaginationParams(r, 50, 200)

	bookings, err := h.service.PartnerBookings(r.Context(), actor, chi.URLParam(r, "partnerID"), page.Limit, page.Offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WritePage(w, bookings, page)
}

// GetPayment handles GET /payments/{orderID}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	p, err := h.service.Payment(r.Context(), actor, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, p)
}

// GetRefund handles GET /refunds/{id}
func (h *Handler) GetRefund(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	rf, err := h.service.Refund(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, rf)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrForbidden):
		api.Forbidden(w, "not allowed to access this record")
	case errors.Is(err, ledger.ErrInvalidConfirmation):
		api.BadRequest(w, "payment signature does not match")
	case database.IsNotFound(err):
		api.NotFound(w, "record not found")
	default:
		api.InternalError(w, "failed to load record")
	}
}
