// Package services sits between the HTTP handlers and the domain packages,
// translating domain results and rejections into transport-ready shapes.
package services

import (
	"context"
	"errors"
	"log/slog"

	apierrors "trialguard/internal/errors"
	"trialguard/internal/fingerprint"
	"trialguard/internal/guard"
)

// GuardService answers abuse checks for activation attempts
type GuardService struct {
	guard  *guard.Guard
	logger *slog.Logger
}

// NewGuardService creates a guard service
func NewGuardService(g *guard.Guard, logger *slog.Logger) *GuardService {
	return &GuardService{
		guard:  g,
		logger: logger.With(slog.String("service", "guard")),
	}
}

// Check evaluates one activation attempt. Rejections come back as
// *apierrors.APIError ready for rendering; anything else is an internal
// fault.
func (s *GuardService) Check(ctx context.Context, email, ip string, fp *fingerprint.Descriptor) (*guard.Decision, error) {
	decision, err := s.guard.Check(ctx, guard.Request{
		Email:       email,
		IP:          ip,
		Fingerprint: fp,
	})
	if err != nil {
		return nil, mapGuardError(err)
	}
	return decision, nil
}

// mapGuardError converts guard rejections to their API representation
func mapGuardError(err error) error {
	var blocked *guard.BlockedError
	if errors.As(err, &blocked) {
		return blocked.APIError()
	}
	var threshold *guard.ThresholdError
	if errors.As(err, &threshold) {
		return threshold.APIError()
	}
	return apierrors.ErrInternalServer
}
