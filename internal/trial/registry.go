package trial

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"trialguard/internal/infrastructure"
	"trialguard/internal/ledger"
)

// ExcessiveTrialThreshold is the per-IP and per-device activation count
// beyond which a suspicion event is logged. Trial-count overages are
// advisory only; unlike account-count overages they never block.
const ExcessiveTrialThreshold = 2

// StartRequest carries everything needed to activate a trial
type StartRequest struct {
	UserID          string
	ProductID       string
	ProductName     string
	ProductCategory string
	TrialDays       int
	ActivationIP    string
	DeviceHash      string
}

// Registry activates trials and answers status checks. Abuse tracking goes
// through the ledger store; the registry itself never rejects on counts.
type Registry struct {
	store            *Store
	ledger           *ledger.Store
	logger           *slog.Logger
	metrics          *infrastructure.Metrics
	defaultTrialDays int
	courseTrialDays  int
	now              func() time.Time
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithTrialDays overrides the default trial lengths
func WithTrialDays(standard, course int) RegistryOption {
	return func(r *Registry) {
		r.defaultTrialDays = standard
		r.courseTrialDays = course
	}
}

// WithMetrics attaches business metric instruments
func WithMetrics(m *infrastructure.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithNow overrides the clock, for tests
func WithNow(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a trial registry
func NewRegistry(store *Store, ledgerStore *ledger.Store, logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:            store,
		ledger:           ledgerStore,
		logger:           logger.With(slog.String("component", "trial_registry")),
		defaultTrialDays: 7,
		courseTrialDays:  60,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StartTrial activates a trial for a user and product. The end date is the
// start plus the trial length, exact UTC arithmetic. A second activation for
// the same pair fails with ErrDuplicateTrial no matter the first trial's
// status.
func (r *Registry) StartTrial(ctx context.Context, req StartRequest) (*Trial, error) {
	now := r.now().UTC()
	days := r.resolveTrialDays(req)

	t := &Trial{
		ID:           uuid.New().String(),
		UserID:       req.UserID,
		ProductID:    req.ProductID,
		ProductName:  req.ProductName,
		StartDate:    now,
		EndDate:      now.Add(time.Duration(days) * 24 * time.Hour),
		TrialDays:    days,
		Status:       StatusActive,
		ActivationIP: req.ActivationIP,
	}

	if err := r.store.Create(ctx, t); err != nil {
		return nil, err
	}

	r.trackActivation(ctx, req.ActivationIP, req.DeviceHash, now)

	r.logger.InfoContext(ctx, "trial started",
		slog.String("trial_id", t.ID),
		slog.String("user_id", t.UserID),
		slog.String("product_id", t.ProductID),
		slog.Int("trial_days", days),
		slog.Time("end_date", t.EndDate))
	if r.metrics != nil {
		r.metrics.TrialsStarted.Add(ctx, 1)
	}

	return t, nil
}

// trackActivation bumps the per-IP and per-device trial counters and logs
// suspicion events on overage. Ledger faults are swallowed: the trial is
// already committed and counting must not undo it.
func (r *Registry) trackActivation(ctx context.Context, ip, deviceHash string, now time.Time) {
	if r.ledger == nil || (ip == "" && deviceHash == "") {
		return
	}

	err := r.ledger.Update(ctx, func(l *ledger.Ledger) error {
		ipCount, deviceCount := l.IncrementTrialCount(ip, deviceHash, now)
		if ipCount > ExcessiveTrialThreshold {
			l.AppendSuspicion(ledger.SuspicionExcessiveTrialsFromIP, ip,
				fmt.Sprintf("%d trials activated from same IP", ipCount), now)
		}
		if deviceCount > ExcessiveTrialThreshold {
			l.AppendSuspicion(ledger.SuspicionExcessiveTrialsFromDevice, deviceHash,
				fmt.Sprintf("%d trials activated from same device", deviceCount), now)
		}
		return nil
	})
	if err != nil {
		r.logger.WarnContext(ctx, "failed to record trial activation in ledger",
			slog.String("ip", ip),
			slog.String("error", err.Error()))
	}
}

func (r *Registry) resolveTrialDays(req StartRequest) int {
	if req.TrialDays > 0 {
		return req.TrialDays
	}
	if strings.EqualFold(req.ProductCategory, CategoryCourse) {
		return r.courseTrialDays
	}
	return r.defaultTrialDays
}

// CheckStatus reports whether a user has a trial for a product and how much
// of it remains. A pure read; the stored status is never touched even when
// the dates say the trial is over.
func (r *Registry) CheckStatus(ctx context.Context, userID, productID string) (*StatusResult, error) {
	t, err := r.store.GetByUserProduct(ctx, userID, productID)
	if err == ErrTrialNotFound {
		return &StatusResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	return &StatusResult{
		HasTrial:      true,
		IsActive:      t.IsActive(now),
		ProductName:   t.ProductName,
		StartDate:     t.StartDate,
		EndDate:       t.EndDate,
		DaysRemaining: t.DaysRemaining(now),
	}, nil
}

// ListAllTrials returns every trial for admin review
func (r *Registry) ListAllTrials(ctx context.Context) ([]Trial, error) {
	return r.store.ListAll(ctx)
}

// DeleteTrial removes a trial by id
func (r *Registry) DeleteTrial(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "trial deleted", slog.String("trial_id", id))
	return nil
}
