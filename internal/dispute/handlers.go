package dispute

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"payrecon/internal/common/api"
	"payrecon/internal/common/database"
	"payrecon/internal/common/middleware"
	"payrecon/internal/identity"
)

// Handler handles dispute HTTP requests
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new dispute handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes returns the dispute routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(middleware.RequireRole(identity.RolePartner, identity.RoleAdmin)).Post("/", h.Open)
	r.Get("/", h.ListBySettlement)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/replies", h.Reply)
	r.With(middleware.RequireRole(identity.RoleAdmin)).Post("/{id}/review", h.Review)
	r.With(middleware.RequireRole(identity.RoleAdmin)).Post("/{id}/resolve", h.Resolve)

	return r
}

// OpenDisputeRequest is the body of POST /disputes
type OpenDisputeRequest struct {
	SettlementID string `json:"settlementId" validate:"required"`
	Reason       string `json:"reason" validate:"required,max=4000"`
	FileURL      string `json:"fileUrl,omitempty" validate:"omitempty,url"`
}

// ReplyRequest is the body of POST /disputes/{id}/replies
type ReplyRequest struct {
	Text string `json:"text" validate:"required,max=4000"`
}

// RemarkRequest is the body of the admin review and resolve calls
type RemarkRequest struct {
	Remark string `json:"remark" validate:"max=4000"`
}

// Open handles POST /disputes
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenDisputeRequest
	if !decode(w, r, &req) {
		return
	}
	actor, _ := middleware.GetActor(r.Context())

	d, err := h.service.Open(r.Context(), actor, OpenRequest{
		SettlementID: req.SettlementID,
		Reason:       req.Reason,
		FileURL:      req.FileURL,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusCreated, d)
}

// Get handles GET /disputes/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	d, err := h.service.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, d)
}

// ListBySettlement handles GET /disputes?settlementId=
func (h *Handler) ListBySettlement(w http.ResponseWriter, r *http.Request) {
	settlementID := r.URL.Query().Get("settlementId")
	if settlementID == "" {
		api.BadRequest(w, "settlementId is required")
		return
	}
	actor, _ := middleware.GetActor(r.Context())
	list, err := h.service.ListBySettlement(r.Context(), actor, settlementID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []*Dispute{}
	}
	api.WriteData(w, http.StatusOK, list)
}

// Reply handles POST /disputes/{id}/replies
func (h *Handler) Reply(w http.ResponseWriter, r *http.Request) {
	var req ReplyRequest
	if !decode(w, r, &req) {
		return
	}
	actor, _ := middleware.GetActor(r.Context())
	reply, err := h.service.Reply(r.Context(), actor, chi.URLParam(r, "id"), req.Text)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusCreated, reply)
}

// Review handles POST /disputes/{id}/review
func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	var req RemarkRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	actor, _ := middleware.GetActor(r.Context())
	d, err := h.service.MarkInReview(r.Context(), actor, chi.URLParam(r, "id"), req.Remark)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, d)
}

// Resolve handles POST /disputes/{id}/resolve
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req RemarkRequest
	if !decode(w, r, &req) {
		return
	}
	actor, _ := middleware.GetActor(r.Context())
	d, err := h.service.Resolve(r.Context(), actor, chi.URLParam(r, "id"), req.Remark)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, d)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		api.Forbidden(w, "not a party to this dispute")
	case errors.Is(err, ErrAlreadyOpen):
		api.Conflict(w, err.Error())
	case errors.Is(err, ErrResolved), errors.Is(err, ErrInvalidTransition):
		api.InvalidTransition(w, err.Error())
	case errors.Is(err, database.ErrConflict):
		api.Conflict(w, "dispute was modified concurrently")
	case errors.Is(err, ErrRemarkRequired), errors.Is(err, ErrReasonRequired), errors.Is(err, ErrEmptyReply):
		api.BadRequest(w, err.Error())
	case database.IsNotFound(err):
		api.NotFound(w, "not found")
	default:
		h.logger.Error("dispute request failed", "error", err)
		api.InternalError(w, "dispute request failed")
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
