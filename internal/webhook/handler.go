package webhook

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"payrecon/internal/common/api"
)

// Handler serves one source's webhook endpoint.
type Handler struct {
	gateway         *Gateway
	source          string
	signatureHeader string
	cfg             Config
	logger          *slog.Logger
}

// NewHandler creates the handler for the default gateway source
func NewHandler(gateway *Gateway, cfg Config, logger *slog.Logger) *Handler {
	return NewSourceHandler(gateway, DefaultSource, cfg.SignatureHeader, cfg, logger)
}

// NewSourceHandler creates a handler for a registered source that signs its
// requests in signatureHeader.
func NewSourceHandler(gateway *Gateway, source, signatureHeader string, cfg Config, logger *slog.Logger) *Handler {
	return &Handler{
		gateway:         gateway,
		source:          source,
		signatureHeader: signatureHeader,
		cfg:             cfg,
		logger:          logger,
	}
}

// ServeHTTP handles POST /api/v1/webhooks/{source}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		api.WriteJSON(w, http.StatusMethodNotAllowed, Result{OK: false, Error: "method not allowed"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		h.logger.Warn("failed to read webhook body", "error", err)
		api.WriteJSON(w, http.StatusRequestEntityTooLarge, Result{OK: false, Error: "body too large"})
		return
	}

	result, err := h.gateway.IngestFrom(r.Context(), h.source, body,
		r.Header.Get(h.signatureHeader),
		r.Header.Get(h.cfg.EventIDHeader),
	)
	switch {
	case err == nil:
		api.WriteJSON(w, http.StatusOK, result)
	case errors.Is(err, ErrInvalidSignature):
		api.WriteJSON(w, http.StatusUnauthorized, result)
	case errors.Is(err, ErrMalformedPayload):
		// Acknowledged so the gateway stops retrying a body that will never parse.
		api.WriteJSON(w, http.StatusOK, result)
	default:
		h.logger.Error("webhook ingestion failed", "error", err)
		api.WriteJSON(w, http.StatusInternalServerError, result)
	}
}
