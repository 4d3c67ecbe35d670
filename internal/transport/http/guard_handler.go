// Package http contains the chi handlers for the trial-abuse and
// trial-lifecycle API.
package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	apierrors "trialguard/internal/errors"
	"trialguard/internal/fingerprint"
	"trialguard/internal/middleware"
	"trialguard/internal/services"
)

var validate = validator.New()

// GuardHandler handles abuse-check HTTP requests
type GuardHandler struct {
	service *services.GuardService
	logger  *slog.Logger
}

// NewGuardHandler creates a new guard handler
func NewGuardHandler(service *services.GuardService, logger *slog.Logger) *GuardHandler {
	return &GuardHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "guard")),
	}
}

// GuardCheckRequest is the abuse-check payload
type GuardCheckRequest struct {
	Email             string                  `json:"email" validate:"required,email"`
	DeviceFingerprint *fingerprint.Descriptor `json:"device_fingerprint,omitempty"`
}

// Bind implements render.Binder
func (req *GuardCheckRequest) Bind(r *http.Request) error {
	return validate.Struct(req)
}

// Check handles POST /api/guard/check
func (h *GuardHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("trialguard/transport").Start(r.Context(), "guard.check")
	defer span.End()

	var req GuardCheckRequest
	if err := render.Bind(r, &req); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	ip := middleware.ClientIP(r)
	span.SetAttributes(attribute.String("guard.client_ip", ip))

	decision, err := h.service.Check(ctx, req.Email, ip, req.DeviceFingerprint)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	render.JSON(w, r, decision)
}

// renderServiceError renders service-layer errors, which are always
// *apierrors.APIError; anything else falls back to a 500
func renderServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		render.Render(w, r, apiErr)
		return
	}
	render.Render(w, r, apierrors.ErrInternalServer)
}
