package services

import (
	"context"
	"log/slog"

	apierrors "trialguard/internal/errors"
	"trialguard/internal/ledger"
)

// LedgerService exposes read-only views of the abuse ledger for admin
// review. Suspicion events are advisory; nothing here mutates.
type LedgerService struct {
	store  *ledger.Store
	logger *slog.Logger
}

// NewLedgerService creates a ledger service
func NewLedgerService(store *ledger.Store, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		store:  store,
		logger: logger.With(slog.String("service", "ledger")),
	}
}

// Suspicions returns the ordered suspicion event log
func (s *LedgerService) Suspicions(ctx context.Context) ([]ledger.SuspicionEvent, error) {
	var events []ledger.SuspicionEvent
	err := s.store.View(ctx, func(l *ledger.Ledger) error {
		events = append([]ledger.SuspicionEvent(nil), l.SuspiciousEvents...)
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "suspicion listing failed", slog.String("error", err.Error()))
		return nil, apierrors.ErrInternalServer
	}
	if events == nil {
		events = []ledger.SuspicionEvent{}
	}
	return events, nil
}

// Blocklist returns the append-only blocklist
func (s *LedgerService) Blocklist(ctx context.Context) ([]ledger.BlockEntry, error) {
	var entries []ledger.BlockEntry
	err := s.store.View(ctx, func(l *ledger.Ledger) error {
		entries = append([]ledger.BlockEntry(nil), l.Blocklist...)
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "blocklist listing failed", slog.String("error", err.Error()))
		return nil, apierrors.ErrInternalServer
	}
	if entries == nil {
		entries = []ledger.BlockEntry{}
	}
	return entries, nil
}
