package risk

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"payrecon/internal/common/api"
	"payrecon/internal/common/database"
	"payrecon/internal/common/middleware"
	"payrecon/internal/identity"
)

// Handler serves stored risk scores
type Handler struct {
	store  Store
	logger *slog.Logger
}

// NewHandler creates a new risk handler
func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Routes returns the risk routes. Admin only.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequireRole(identity.RoleAdmin))
	r.Get("/partners/{id}", h.GetPartnerScore)
	return r
}

// GetPartnerScore handles GET /risk/partners/{id}
func (h *Handler) GetPartnerScore(w http.ResponseWriter, r *http.Request) {
	score, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "no risk score for partner")
			return
		}
		h.logger.Error("failed to get risk score", "error", err)
		api.InternalError(w, "failed to get risk score")
		return
	}
	api.WriteData(w, http.StatusOK, score)
}
