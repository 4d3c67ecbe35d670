// Package scheduler drives the trial lifecycle: a daily sweep that expires
// trials past their end date and a daily scan that sends expiry reminders.
// Expiry is terminal; a sweep never rewinds a trial to active.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"trialguard/internal/config"
	"trialguard/internal/infrastructure"
	"trialguard/internal/notify"
	"trialguard/internal/trial"
)

// reminderDays are the days-remaining values that trigger a reminder.
// Anything else inside the horizon stays silent, so a user hears from us
// three times at most.
var reminderDays = map[int]bool{7: true, 3: true, 1: true}

// Scheduler owns the daily sweep and reminder loops
type Scheduler struct {
	store    *trial.Store
	notifier notify.Notifier
	logger   *slog.Logger
	metrics  *infrastructure.Metrics
	clock    Clock

	sweepHour, sweepMinute       int
	reminderHour, reminderMinute int
	horizonDays                  int
	startupDelay                 time.Duration

	stop chan struct{}
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces the system clock, for tests
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithMetrics attaches business metric instruments
func WithMetrics(m *infrastructure.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a scheduler from its configuration. The sweep and reminder
// times are HH:MM wall-clock values in UTC.
func New(cfg config.SchedulerConfig, store *trial.Store, notifier notify.Notifier, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	sweepHour, sweepMinute, err := config.ParseClockTime(cfg.SweepTime)
	if err != nil {
		return nil, err
	}
	reminderHour, reminderMinute, err := config.ParseClockTime(cfg.ReminderTime)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		store:          store,
		notifier:       notifier,
		logger:         logger.With(slog.String("component", "scheduler")),
		clock:          NewRealClock(),
		sweepHour:      sweepHour,
		sweepMinute:    sweepMinute,
		reminderHour:   reminderHour,
		reminderMinute: reminderMinute,
		horizonDays:    cfg.ReminderHorizonDays,
		startupDelay:   cfg.StartupSweepDelay,
		stop:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run blocks, firing sweeps and reminder scans on schedule until the
// context is cancelled or Stop is called. An initial sweep runs shortly
// after start to catch trials that expired while the process was down.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler started",
		slog.String("sweep_time", clockString(s.sweepHour, s.sweepMinute)),
		slog.String("reminder_time", clockString(s.reminderHour, s.reminderMinute)),
		slog.Duration("startup_sweep_delay", s.startupDelay))

	initial := s.clock.After(s.startupDelay)
	now := s.clock.Now().UTC()
	sweep := s.clock.After(untilNext(now, s.sweepHour, s.sweepMinute))
	remind := s.clock.After(untilNext(now, s.reminderHour, s.reminderMinute))

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scheduler stopped", slog.String("reason", "context cancelled"))
			return ctx.Err()
		case <-s.stop:
			s.logger.InfoContext(ctx, "scheduler stopped", slog.String("reason", "stop requested"))
			return nil
		case <-initial:
			initial = nil
			s.Sweep(ctx)
		case <-sweep:
			s.Sweep(ctx)
			sweep = s.clock.After(untilNext(s.clock.Now().UTC(), s.sweepHour, s.sweepMinute))
		case <-remind:
			s.ScanReminders(ctx)
			remind = s.clock.After(untilNext(s.clock.Now().UTC(), s.reminderHour, s.reminderMinute))
		}
	}
}

// Stop requests a clean shutdown of Run. Safe to call more than once.
func (s *Scheduler) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

// Sweep expires every active trial past its end date. Store faults are
// logged and the cycle skipped; the next tick retries. Running a sweep
// twice in a row is harmless.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.clock.Now().UTC()

	expired, err := s.store.FindExpired(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep skipped: failed to query expired trials",
			slog.String("error", err.Error()))
		return
	}
	if len(expired) == 0 {
		s.logger.DebugContext(ctx, "sweep found no expired trials")
		return
	}

	ids := make([]string, len(expired))
	for i, t := range expired {
		ids[i] = t.ID
	}

	n, err := s.store.BulkExpire(ctx, ids)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep skipped: failed to expire trials",
			slog.String("error", err.Error()))
		return
	}

	s.logger.InfoContext(ctx, "sweep expired trials", slog.Int64("count", n))
	for _, t := range expired {
		s.logger.InfoContext(ctx, "trial expired by sweep",
			slog.String("trial_id", t.ID),
			slog.String("user_id", t.UserID),
			slog.String("product_name", t.ProductName),
			slog.Time("end_date", t.EndDate))
		if err := s.notifier.SendExpiry(ctx, notify.Expiry{
			UserID:      t.UserID,
			ProductID:   t.ProductID,
			ProductName: t.ProductName,
			EndDate:     t.EndDate,
		}); err != nil {
			s.logger.WarnContext(ctx, "failed to send expiry notice",
				slog.String("trial_id", t.ID),
				slog.String("error", err.Error()))
		}
	}
	if s.metrics != nil {
		s.metrics.TrialsExpired.Add(ctx, n)
	}
}

// ScanReminders sends expiry reminders for active trials ending within the
// horizon, at exactly 7, 3 and 1 days remaining
func (s *Scheduler) ScanReminders(ctx context.Context) {
	now := s.clock.Now().UTC()

	expiring, err := s.store.FindExpiringWithin(ctx, now, s.horizonDays)
	if err != nil {
		s.logger.ErrorContext(ctx, "reminder scan skipped: failed to query expiring trials",
			slog.String("error", err.Error()))
		return
	}

	var sent int64
	for _, t := range expiring {
		days := t.DaysRemaining(now)
		if !reminderDays[days] {
			continue
		}
		if err := s.notifier.SendReminder(ctx, notify.Reminder{
			UserID:        t.UserID,
			ProductID:     t.ProductID,
			ProductName:   t.ProductName,
			EndDate:       t.EndDate,
			DaysRemaining: days,
		}); err != nil {
			s.logger.WarnContext(ctx, "failed to send reminder",
				slog.String("trial_id", t.ID),
				slog.String("error", err.Error()))
			continue
		}
		sent++
	}

	if sent > 0 {
		s.logger.InfoContext(ctx, "reminder scan complete",
			slog.Int("expiring", len(expiring)),
			slog.Int64("sent", sent))
		if s.metrics != nil {
			s.metrics.RemindersSent.Add(ctx, sent)
		}
	}
}

func clockString(hour, minute int) string {
	return time.Date(0, 1, 1, hour, minute, 0, 0, time.UTC).Format("15:04")
}
