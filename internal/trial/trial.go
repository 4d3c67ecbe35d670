// Package trial is the registry of product trials: one trial per user and
// product, ever. Dates are exact UTC arithmetic from the trial length.
package trial

import (
	"errors"
	"math"
	"time"
)

// Trial statuses. The transition active -> expired is terminal.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
)

// Product categories that carry their own default trial length
const (
	CategoryStandard = "standard"
	CategoryCourse   = "course"
)

var (
	// ErrDuplicateTrial is returned when a (user, product) pair already has
	// a trial, regardless of its status
	ErrDuplicateTrial = errors.New("trial already exists for this user and product")

	// ErrTrialNotFound is returned by lookups for unknown trials
	ErrTrialNotFound = errors.New("trial not found")
)

// Trial is one product trial. EndDate is StartDate plus TrialDays, computed
// once at activation and never recomputed.
type Trial struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	UserID       string    `gorm:"size:64;not null;uniqueIndex:idx_trials_user_product" json:"user_id"`
	ProductID    string    `gorm:"size:64;not null;uniqueIndex:idx_trials_user_product" json:"product_id"`
	ProductName  string    `gorm:"size:255" json:"product_name"`
	StartDate    time.Time `gorm:"not null" json:"start_date"`
	EndDate      time.Time `gorm:"not null;index" json:"end_date"`
	TrialDays    int       `gorm:"not null" json:"trial_days"`
	Status       string    `gorm:"size:16;not null;index" json:"status"`
	ActivationIP string    `gorm:"size:64" json:"activation_ip"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName keeps the table name stable across GORM naming strategies
func (Trial) TableName() string {
	return "trials"
}

// DaysRemaining counts whole days until EndDate, rounding partial days up.
// A trial that ends in one hour has one day remaining.
func (t *Trial) DaysRemaining(now time.Time) int {
	remaining := t.EndDate.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}

// IsActive reports whether the trial is live at the given instant. The
// stored status may lag behind until the next sweep; callers that need the
// truth compare dates.
func (t *Trial) IsActive(now time.Time) bool {
	return t.Status == StatusActive && now.Before(t.EndDate)
}

// StatusResult is the read-model returned to status checks
type StatusResult struct {
	HasTrial      bool      `json:"has_trial"`
	IsActive      bool      `json:"is_active"`
	ProductName   string    `json:"product_name,omitempty"`
	StartDate     time.Time `json:"start_date,omitempty"`
	EndDate       time.Time `json:"end_date,omitempty"`
	DaysRemaining int       `json:"days_remaining"`
}
