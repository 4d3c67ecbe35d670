package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "trialguard/internal/errors"
	"trialguard/internal/services"
)

// AdminHandler exposes the back-office views: trial management and
// read-only ledger review
type AdminHandler struct {
	trials *services.TrialService
	ledger *services.LedgerService
	logger *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(trials *services.TrialService, ledger *services.LedgerService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		trials: trials,
		ledger: ledger,
		logger: logger.With(slog.String("handler", "admin")),
	}
}

// ListTrials handles GET /api/admin/trials
func (h *AdminHandler) ListTrials(w http.ResponseWriter, r *http.Request) {
	trials, err := h.trials.ListTrials(r.Context())
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"trials": trials,
		"count":  len(trials),
	})
}

// DeleteTrial handles DELETE /api/admin/trials/{id}
func (h *AdminHandler) DeleteTrial(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		render.Render(w, r, apierrors.ValidationFailed("id", "trial id is required"))
		return
	}

	if err := h.trials.DeleteTrial(r.Context(), id); err != nil {
		renderServiceError(w, r, err)
		return
	}

	render.NoContent(w, r)
}

// ListSuspicions handles GET /api/admin/ledger/suspicions
func (h *AdminHandler) ListSuspicions(w http.ResponseWriter, r *http.Request) {
	events, err := h.ledger.Suspicions(r.Context())
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"suspicious_events": events,
		"count":             len(events),
	})
}

// ListBlocklist handles GET /api/admin/ledger/blocklist
func (h *AdminHandler) ListBlocklist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.Blocklist(r.Context())
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"blocklist": entries,
		"count":     len(entries),
	})
}
