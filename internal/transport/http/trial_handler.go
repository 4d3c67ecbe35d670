package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	apierrors "trialguard/internal/errors"
	"trialguard/internal/fingerprint"
	"trialguard/internal/middleware"
	"trialguard/internal/services"
)

// TrialHandler handles trial lifecycle HTTP requests
type TrialHandler struct {
	service *services.TrialService
	logger  *slog.Logger
}

// NewTrialHandler creates a new trial handler
func NewTrialHandler(service *services.TrialService, logger *slog.Logger) *TrialHandler {
	return &TrialHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "trial")),
	}
}

// StartTrialRequest is the trial activation payload
type StartTrialRequest struct {
	UserID            string                  `json:"user_id" validate:"required"`
	Email             string                  `json:"email" validate:"required,email"`
	ProductID         string                  `json:"product_id" validate:"required"`
	ProductName       string                  `json:"product_name"`
	ProductCategory   string                  `json:"product_category" validate:"omitempty,oneof=standard course"`
	TrialDays         int                     `json:"trial_days" validate:"gte=0,lte=365"`
	DeviceFingerprint *fingerprint.Descriptor `json:"device_fingerprint,omitempty"`
}

// Bind implements render.Binder
func (req *StartTrialRequest) Bind(r *http.Request) error {
	return validate.Struct(req)
}

// Start handles POST /api/trials
func (h *TrialHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("trialguard/transport").Start(r.Context(), "trial.start")
	defer span.End()

	var req StartTrialRequest
	if err := render.Bind(r, &req); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	span.SetAttributes(
		attribute.String("trial.user_id", req.UserID),
		attribute.String("trial.product_id", req.ProductID))

	t, err := h.service.StartTrial(ctx, services.StartTrialInput{
		UserID:          req.UserID,
		Email:           req.Email,
		ProductID:       req.ProductID,
		ProductName:     req.ProductName,
		ProductCategory: req.ProductCategory,
		TrialDays:       req.TrialDays,
		IP:              middleware.ClientIP(r),
		Fingerprint:     req.DeviceFingerprint,
	})
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, t)
}

// Status handles GET /api/trials/status
func (h *TrialHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	productID := r.URL.Query().Get("product_id")
	if userID == "" || productID == "" {
		render.Render(w, r, apierrors.ValidationFailed("user_id/product_id", "both query parameters are required"))
		return
	}

	status, err := h.service.CheckStatus(r.Context(), userID, productID)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	render.JSON(w, r, status)
}
