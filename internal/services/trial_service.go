package services

import (
	"context"
	"errors"
	"log/slog"

	apierrors "trialguard/internal/errors"
	"trialguard/internal/fingerprint"
	"trialguard/internal/guard"
	"trialguard/internal/trial"
)

// StartTrialInput is everything a trial activation needs from the caller
type StartTrialInput struct {
	UserID          string
	Email           string
	ProductID       string
	ProductName     string
	ProductCategory string
	TrialDays       int
	IP              string
	Fingerprint     *fingerprint.Descriptor
}

// TrialService runs the guard before every activation and owns the
// registry operations
type TrialService struct {
	registry *trial.Registry
	guard    *guard.Guard
	logger   *slog.Logger
}

// NewTrialService creates a trial service
func NewTrialService(registry *trial.Registry, g *guard.Guard, logger *slog.Logger) *TrialService {
	return &TrialService{
		registry: registry,
		guard:    g,
		logger:   logger.With(slog.String("service", "trial")),
	}
}

// StartTrial guards the attempt, then activates the trial. Guard rejections
// and duplicate trials come back as *apierrors.APIError.
func (s *TrialService) StartTrial(ctx context.Context, in StartTrialInput) (*trial.Trial, error) {
	decision, err := s.guard.Check(ctx, guard.Request{
		Email:       in.Email,
		IP:          in.IP,
		Fingerprint: in.Fingerprint,
	})
	if err != nil {
		return nil, mapGuardError(err)
	}

	t, err := s.registry.StartTrial(ctx, trial.StartRequest{
		UserID:          in.UserID,
		ProductID:       in.ProductID,
		ProductName:     in.ProductName,
		ProductCategory: in.ProductCategory,
		TrialDays:       in.TrialDays,
		ActivationIP:    in.IP,
		DeviceHash:      decision.DeviceHash,
	})
	if err != nil {
		if errors.Is(err, trial.ErrDuplicateTrial) {
			return nil, apierrors.ErrDuplicateTrial
		}
		s.logger.ErrorContext(ctx, "trial activation failed",
			slog.String("user_id", in.UserID),
			slog.String("product_id", in.ProductID),
			slog.String("error", err.Error()))
		return nil, apierrors.ErrInternalServer
	}
	return t, nil
}

// CheckStatus answers a trial status lookup
func (s *TrialService) CheckStatus(ctx context.Context, userID, productID string) (*trial.StatusResult, error) {
	status, err := s.registry.CheckStatus(ctx, userID, productID)
	if err != nil {
		s.logger.ErrorContext(ctx, "trial status lookup failed",
			slog.String("user_id", userID),
			slog.String("product_id", productID),
			slog.String("error", err.Error()))
		return nil, apierrors.ErrInternalServer
	}
	return status, nil
}

// ListTrials returns all trials for admin review
func (s *TrialService) ListTrials(ctx context.Context) ([]trial.Trial, error) {
	trials, err := s.registry.ListAllTrials(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "trial listing failed", slog.String("error", err.Error()))
		return nil, apierrors.ErrInternalServer
	}
	return trials, nil
}

// DeleteTrial removes a trial by id
func (s *TrialService) DeleteTrial(ctx context.Context, id string) error {
	err := s.registry.DeleteTrial(ctx, id)
	if errors.Is(err, trial.ErrTrialNotFound) {
		return apierrors.ErrTrialNotFound
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "trial deletion failed",
			slog.String("trial_id", id),
			slog.String("error", err.Error()))
		return apierrors.ErrInternalServer
	}
	return nil
}
