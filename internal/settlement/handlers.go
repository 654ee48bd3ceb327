package settlement

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"payrecon/internal/common/api"
	"payrecon/internal/common/database"
	"payrecon/internal/common/middleware"
	"payrecon/internal/common/money"
	"payrecon/internal/identity"
)

// Handler handles settlement HTTP requests
type Handler struct {
	manager *Manager
	logger  *slog.Logger
}

// NewHandler creates a new settlement handler
func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	return &Handler{manager: manager, logger: logger}
}

// Routes returns the settlement routes. create is wrapped around the
// creation endpoint only, for idempotency keys.
func (h *Handler) Routes(create ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.With(append([]func(http.Handler) http.Handler{middleware.RequireRole(identity.RolePartner)}, create...)...).
		Post("/", h.Create)
	r.With(middleware.RequireRole(identity.RoleAdmin)).Post("/actions", h.Action)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/history", h.History)

	return r
}

// CreateSettlementRequest is the partner payout request body
type CreateSettlementRequest struct {
	BookingIDs  []string `json:"bookingIds" validate:"required,min=1,dive,required"`
	TotalAmount float64  `json:"totalAmount" validate:"gt=0"`
}

// CreateSettlementResponse is returned on successful creation
type CreateSettlementResponse struct {
	Success      bool   `json:"success"`
	SettlementID string `json:"settlementId"`
	InvoiceURL   string `json:"invoiceUrl,omitempty"`
}

// Create handles POST /settlements
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSettlementRequest
	if !decode(w, r, &req) {
		return
	}
	actor, _ := middleware.GetActor(r.Context())

	st, err := h.manager.Create(r.Context(), CreateRequest{
		PartnerID:  actor.UID,
		BookingIDs: req.BookingIDs,
		Amount:     money.NewFromMajor(req.TotalAmount, money.Default),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusCreated, CreateSettlementResponse{
		Success:      true,
		SettlementID: st.ID,
		InvoiceURL:   st.InvoiceURL,
	})
}

// ActionRequest is the admin transition body
type ActionRequest struct {
	SettlementID string `json:"settlementId" validate:"required"`
	Action       string `json:"action" validate:"required,oneof=approve reject hold markPaid"`
	Remark       string `json:"remark,omitempty" validate:"max=2000"`
	UTRNumber    string `json:"utrNumber,omitempty" validate:"max=64"`
}

// ActionResponse is returned after a transition
type ActionResponse struct {
	Success bool   `json:"success"`
	Status  Status `json:"status"`
}

// Action handles POST /settlements/actions
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

	st, err := h.manager.Transition(r.Context(), TransitionRequest{
		SettlementID: req.SettlementID,
		Action:       action,
		ActorID:      actor.UID,
		Remark:       strings.TrimSpace(req.Remark),
		UTRNumber:    strings.TrimSpace(req.UTRNumber),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, ActionResponse{Success: true, Status: st.Status})
}

// Get handles GET /settlements/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	st, err := h.manager.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, st)
}

// History handles GET /settlements/{id}/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	entries, err := h.manager.History(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, entries)
}

// List handles GET /settlements?status=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	page := api.GetPaginationParams(r, 50, 200)

	filter := ListFilter{Limit: page.Limit, Offset: page.Offset}
	if v := r.URL.Query().Get("status"); v != "" {
		status, err := ParseStatus(v)
		if err != nil {
			api.BadRequest(w, err.Error())
			return
		}
		filter.Status = status
	}
	if v := r.URL.Query().Get("partnerId"); v != "" && actor.IsAdmin() {
		filter.PartnerID = v
	}

	list, err := h.manager.List(r.Context(), actor, filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WritePage(w, list, page)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var overlap *OverlapError
	switch {
	case errors.As(err, &overlap):
		api.WriteErrorWithDetails(w, http.StatusConflict, api.ErrCodeOverlap, "bookings already claimed by another settlement",
			map[string]string{"bookingIds": strings.Join(overlap.BookingIDs, ",")})
	case errors.Is(err, ErrInvalidTransition):
		api.InvalidTransition(w, err.Error())
	case errors.Is(err, database.ErrConflict):
		api.Conflict(w, "settlement was modified concurrently")
	case errors.Is(err, ErrKYCNotApproved), errors.Is(err, ErrBookingNotOwned), errors.Is(err, ErrForbidden):
		api.Forbidden(w, err.Error())
	case errors.Is(err, ErrEmptyBookings), errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrUnknownAction):
		api.BadRequest(w, err.Error())
	case database.IsNotFound(err):
		api.NotFound(w, "settlement not found")
	default:
		h.logger.Error("settlement request failed", "error", err)
		api.InternalError(w, "settlement request failed")
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
