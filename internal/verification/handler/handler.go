// Package handler serves the public verification endpoints. These routes
// are unauthenticated by design: anyone holding a folio may verify it.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"constancia/internal/transport/http/shared"
	"constancia/internal/verification"
	id "constancia/pkg/domain"
)

type Handler struct {
	verifier *verification.Service
	logger   *slog.Logger
}

func New(verifier *verification.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{verifier: verifier, logger: logger}
}

// Register mounts the public routes. No auth middleware belongs here.
func (h *Handler) Register(r chi.Router) {
	r.Get("/public/verify/{folio}", h.handleVerify)
	r.Get("/public/certificate/{folio}/pdf", h.handleDocument)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	folio := id.Folio(chi.URLParam(r, "folio"))

	view, err := h.verifier.VerifyByFolio(r.Context(), folio)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleDocument(w http.ResponseWriter, r *http.Request) {
	folio := id.Folio(chi.URLParam(r, "folio"))

	path, err := h.verifier.FetchDocument(r.Context(), folio)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="`+folio.String()+`.pdf"`)
	http.ServeFile(w, r, path)
}
