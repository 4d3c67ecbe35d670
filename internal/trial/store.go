package trial

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store persists trials in SQLite through GORM. The unique index on
// (user_id, product_id) backs the one-trial-ever rule even if two creates
// race past the lookup.
type Store struct {
	db *gorm.DB
}

// NewStore opens (or creates) the trial database and migrates the schema.
// Use ":memory:" for tests.
func NewStore(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trial database: %w", err)
	}

	if err := db.AutoMigrate(&Trial{}); err != nil {
		return nil, fmt.Errorf("failed to migrate trial schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Create inserts a trial, rejecting duplicates for the same user and product
func (s *Store) Create(ctx context.Context, t *Trial) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Trial{}).
			Where("user_id = ? AND product_id = ?", t.UserID, t.ProductID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check for existing trial: %w", err)
		}
		if count > 0 {
			return ErrDuplicateTrial
		}

		if err := tx.Create(t).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateTrial
			}
			return fmt.Errorf("failed to create trial: %w", err)
		}
		return nil
	})
}

// GetByUserProduct fetches the trial for a (user, product) pair
func (s *Store) GetByUserProduct(ctx context.Context, userID, productID string) (*Trial, error) {
	var t Trial
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTrialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query trial: %w", err)
	}
	return &t, nil
}

// GetByID fetches a trial by its identifier
func (s *Store) GetByID(ctx context.Context, id string) (*Trial, error) {
	var t Trial
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTrialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query trial: %w", err)
	}
	return &t, nil
}

// ListAll returns every trial, newest first
func (s *Store) ListAll(ctx context.Context) ([]Trial, error) {
	var trials []Trial
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&trials).Error; err != nil {
		return nil, fmt.Errorf("failed to list trials: %w", err)
	}
	return trials, nil
}

// Delete removes a trial by id
func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Trial{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete trial: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTrialNotFound
	}
	return nil
}

// FindExpired returns active trials whose end date has passed
func (s *Store) FindExpired(ctx context.Context, now time.Time) ([]Trial, error) {
	var trials []Trial
	if err := s.db.WithContext(ctx).
		Where("status = ? AND end_date <= ?", StatusActive, now).
		Find(&trials).Error; err != nil {
		return nil, fmt.Errorf("failed to query expired trials: %w", err)
	}
	return trials, nil
}

// BulkExpire flips the given trials to expired in one statement
func (s *Store) BulkExpire(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&Trial{}).
		Where("id IN ? AND status = ?", ids, StatusActive).
		Update("status", StatusExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to expire trials: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// FindExpiringWithin returns active trials ending inside the horizon,
// soonest first
func (s *Store) FindExpiringWithin(ctx context.Context, now time.Time, horizonDays int) ([]Trial, error) {
	horizon := now.Add(time.Duration(horizonDays) * 24 * time.Hour)
	var trials []Trial
	if err := s.db.WithContext(ctx).
		Where("status = ? AND end_date > ? AND end_date <= ?", StatusActive, now, horizon).
		Order("end_date ASC").
		Find(&trials).Error; err != nil {
		return nil, fmt.Errorf("failed to query expiring trials: %w", err)
	}
	return trials, nil
}

// Close releases the underlying database handle
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
