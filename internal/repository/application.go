// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/Grisenxx/divisionwebsite/internal/models"

	"gorm.io/gorm"
)

// ListFilter narrows an application listing.
type ListFilter struct {
	// Types restricts results to these application types. Empty means none.
	Types  []string
	Status models.ApplicationStatus
	Limit  int
}

// ApplicationRepository defines the interface for application data operations
type ApplicationRepository interface {
	Create(ctx context.Context, app *models.Application) error
	GetByID(ctx context.Context, id string) (*models.Application, error)
	// UpdateStatus applies change only while the stored status is one of
	// from. It reports whether a row was updated.
	UpdateStatus(ctx context.Context, id string, from []models.ApplicationStatus, change models.StatusChange) (bool, error)
	List(ctx context.Context, filter ListFilter) ([]models.Application, error)
	Search(ctx context.Context, query string, types []string, limit int) ([]models.Application, error)
	LatestForApplicant(ctx context.Context, applicantID, appType string) (*models.Application, error)
	CountByStatus(ctx context.Context, appType string, status models.ApplicationStatus) (int64, error)
}

type applicationRepository struct {
	db *gorm.DB
}

// NewApplicationRepository creates a new application repository
func NewApplicationRepository(db *gorm.DB) ApplicationRepository {
	return &applicationRepository{db: db}
}

func (r *applicationRepository) Create(ctx context.Context, app *models.Application) error {
	if err := r.db.WithContext(ctx).Create(app).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *applicationRepository) GetByID(ctx context.Context, id string) (*models.Application, error) {
	var app models.Application
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Application", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &app, nil
}

func (r *applicationRepository) UpdateStatus(ctx context.Context, id string, from []models.ApplicationStatus, change models.StatusChange) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	updates := map[string]interface{}{
		"status":          change.Status,
		"updated_at":      change.DecidedAt,
		"updated_by_id":   change.DecidedByID,
		"updated_by_name": change.DecidedByName,
	}
	if change.Status == models.ApplicationStatusRejected {
		updates["rejection_reason"] = change.RejectionReason
	}

	result := r.db.WithContext(ctx).
		Model(&models.Application{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, models.NewInternalError(result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *applicationRepository) List(ctx context.Context, filter ListFilter) ([]models.Application, error) {
	if len(filter.Types) == 0 {
		return []models.Application{}, nil
	}

	q := r.db.WithContext(ctx).Where("type IN ?", filter.Types)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var apps []models.Application
	if err := q.Order("created_at DESC").Find(&apps).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return apps, nil
}

func (r *applicationRepository) Search(ctx context.Context, query string, types []string, limit int) ([]models.Application, error) {
	if len(types) == 0 || query == "" {
		return []models.Application{}, nil
	}

	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	q := r.db.WithContext(ctx).
		Where("type IN ?", types).
		Where(`(LOWER(applicant_name) LIKE ? ESCAPE '\' OR applicant_id LIKE ? ESCAPE '\')`, pattern, pattern).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var apps []models.Application
	if err := q.Find(&apps).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return apps, nil
}

func (r *applicationRepository) LatestForApplicant(ctx context.Context, applicantID, appType string) (*models.Application, error) {
	var app models.Application
	err := r.db.WithContext(ctx).
		Where("applicant_id = ? AND type = ?", applicantID, appType).
		Order("created_at DESC").
		First(&app).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &app, nil
}

func (r *applicationRepository) CountByStatus(ctx context.Context, appType string, status models.ApplicationStatus) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Application{}).Where("status = ?", status)
	if appType != "" {
		q = q.Where("type = ?", appType)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return n, nil
}

// escapeLike escapes LIKE wildcards so query matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
