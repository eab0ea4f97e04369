package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/brightpath-ed/safeguard-api/internal/models"
)

// ErrVersionConflict signals an optimistic-lock failure on a dual-auth
// request; the caller should reload and retry or give up.
var ErrVersionConflict = errors.New("request modified concurrently")

// DualAuthRepository persists unmask requests and their approvals.
type DualAuthRepository interface {
	Create(ctx context.Context, request *models.DualAuthRequest) error
	FindByReference(ctx context.Context, ref string) (models.DualAuthRequest, error)
	// UpdateWithVersion saves the request and appends newApprovals only if the
	// stored version still matches request.Version. On success the version is
	// bumped; on a lost race it returns ErrVersionConflict.
	UpdateWithVersion(ctx context.Context, request *models.DualAuthRequest, newApprovals []models.DualAuthApproval) error
}

type dualAuthRepository struct {
	db *gorm.DB
}

// NewDualAuthRepository constructs a repository backed by GORM.
func NewDualAuthRepository(db *gorm.DB) DualAuthRepository {
	return &dualAuthRepository{db: db}
}

func (r *dualAuthRepository) Create(ctx context.Context, request *models.DualAuthRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *dualAuthRepository) FindByReference(ctx context.Context, ref string) (models.DualAuthRequest, error) {
	var request models.DualAuthRequest
	err := r.db.WithContext(ctx).
		Preload("Approvals").
		Where("reference_id = ?", ref).
		First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DualAuthRequest{}, ErrRecordNotFound
	}
	return request, err
}

func (r *dualAuthRepository) UpdateWithVersion(ctx context.Context, request *models.DualAuthRequest, newApprovals []models.DualAuthApproval) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		currentVersion := request.Version
		result := tx.Model(&models.DualAuthRequest{}).
			Where("id = ? AND version = ?", request.ID, currentVersion).
			Updates(map[string]interface{}{
				"status":     request.Status,
				"decided_at": request.DecidedAt,
				"version":    currentVersion + 1,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrVersionConflict
		}

		for i := range newApprovals {
			newApprovals[i].RequestID = request.ID
			if err := tx.Create(&newApprovals[i]).Error; err != nil {
				return err
			}
		}

		request.Version = currentVersion + 1
		return nil
	})
}
