// Package notify abstracts outbound user notifications. The engine only
// decides WHEN to notify; delivery belongs to whoever implements Notifier.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Reminder tells a user their trial is about to end
type Reminder struct {
	UserID        string
	ProductID     string
	ProductName   string
	EndDate       time.Time
	DaysRemaining int
}

// Expiry tells a user their trial has ended
type Expiry struct {
	UserID      string
	ProductID   string
	ProductName string
	EndDate     time.Time
}

// Notifier delivers trial lifecycle notifications. Implementations must be
// safe for concurrent use; errors are logged by callers, never retried.
type Notifier interface {
	SendReminder(ctx context.Context, r Reminder) error
	SendExpiry(ctx context.Context, e Expiry) error
}

// LogNotifier writes notifications to the structured log. It stands in for
// a real delivery channel and doubles as the audit trail.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(slog.String("component", "notifier"))}
}

// SendReminder logs an expiry reminder
func (n *LogNotifier) SendReminder(ctx context.Context, r Reminder) error {
	n.logger.InfoContext(ctx, "trial expiry reminder",
		slog.String("user_id", r.UserID),
		slog.String("product_id", r.ProductID),
		slog.String("product_name", r.ProductName),
		slog.Time("end_date", r.EndDate),
		slog.Int("days_remaining", r.DaysRemaining))
	return nil
}

// SendExpiry logs a trial expiry notice
func (n *LogNotifier) SendExpiry(ctx context.Context, e Expiry) error {
	n.logger.InfoContext(ctx, "trial expired",
		slog.String("user_id", e.UserID),
		slog.String("product_id", e.ProductID),
		slog.String("product_name", e.ProductName),
		slog.Time("end_date", e.EndDate))
	return nil
}
