package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Grisenxx/divisionwebsite/internal/models"

	"gorm.io/gorm"
)

// SecurityRepository stores violation and IP block records.
type SecurityRepository interface {
	RecordViolation(ctx context.Context, v *models.SecurityViolation) error
	CountViolationsSince(ctx context.Context, ip string, since time.Time) (int64, error)
	ListViolations(ctx context.Context, limit int) ([]models.SecurityViolation, error)
	DeleteViolations(ctx context.Context, ip string) (int64, error)

	CreateBlock(ctx context.Context, b *models.BlockedIP) error
	// ActiveBlock returns the newest block for ip in force at now, or nil.
	ActiveBlock(ctx context.Context, ip string, now time.Time) (*models.BlockedIP, error)
	ListBlocks(ctx context.Context, limit int) ([]models.BlockedIP, error)
	DeleteBlocks(ctx context.Context, ip string) (int64, error)
	DeleteAllBlocks(ctx context.Context) (int64, error)
}

type securityRepository struct {
	db *gorm.DB
}

// NewSecurityRepository creates a new security repository
func NewSecurityRepository(db *gorm.DB) SecurityRepository {
	return &securityRepository{db: db}
}

func (r *securityRepository) RecordViolation(ctx context.Context, v *models.SecurityViolation) error {
	if err := r.db.WithContext(ctx).Create(v).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *securityRepository) CountViolationsSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).
		Model(&models.SecurityViolation{}).
		Where("ip = ? AND created_at >= ?", ip, since).
		Count(&n).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return n, nil
}

func (r *securityRepository) ListViolations(ctx context.Context, limit int) ([]models.SecurityViolation, error) {
	var out []models.SecurityViolation
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return out, nil
}

func (r *securityRepository) DeleteViolations(ctx context.Context, ip string) (int64, error) {
	result := r.db.WithContext(ctx).Where("ip = ?", ip).Delete(&models.SecurityViolation{})
	if result.Error != nil {
		return 0, models.NewInternalError(result.Error)
	}
	return result.RowsAffected, nil
}

func (r *securityRepository) CreateBlock(ctx context.Context, b *models.BlockedIP) error {
	if err := r.db.WithContext(ctx).Create(b).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *securityRepository) ActiveBlock(ctx context.Context, ip string, now time.Time) (*models.BlockedIP, error) {
	var b models.BlockedIP
	err := r.db.WithContext(ctx).
		Where("ip = ? AND (permanent = ? OR expires_at >= ?)", ip, true, now).
		Order("blocked_at DESC").
		First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &b, nil
}

func (r *securityRepository) ListBlocks(ctx context.Context, limit int) ([]models.BlockedIP, error) {
	var out []models.BlockedIP
	q := r.db.WithContext(ctx).Order("blocked_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return out, nil
}

func (r *securityRepository) DeleteBlocks(ctx context.Context, ip string) (int64, error) {
	result := r.db.WithContext(ctx).Where("ip = ?", ip).Delete(&models.BlockedIP{})
	if result.Error != nil {
		return 0, models.NewInternalError(result.Error)
	}
	return result.RowsAffected, nil
}

func (r *securityRepository) DeleteAllBlocks(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Where("1 = 1").Delete(&models.BlockedIP{})
	if result.Error != nil {
		return 0, models.NewInternalError(result.Error)
	}
	return result.RowsAffected, nil
}
