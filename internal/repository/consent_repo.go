package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/brightpath-ed/safeguard-api/internal/models"
)

// ErrRecordNotFound normalizes gorm's not-found error for service layers.
var ErrRecordNotFound = errors.New("record not found")

// ConsentRepository persists consent records. Records are superseded, never
// deleted.
type ConsentRepository interface {
	Create(ctx context.Context, record *models.ConsentRecord) error
	Update(ctx context.Context, record *models.ConsentRecord) error
	FindByReference(ctx context.Context, ref string) (models.ConsentRecord, error)
	FindByVerificationCode(ctx context.Context, code string) (models.ConsentRecord, error)
	LatestForStudent(ctx context.Context, studentID string) (models.ConsentRecord, error)
	ExpirePending(ctx context.Context, ref string, expiredAt time.Time) (bool, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.ConsentRecord, error)
}

type consentRepository struct {
	db *gorm.DB
}

// NewConsentRepository constructs a repository backed by GORM.
func NewConsentRepository(db *gorm.DB) ConsentRepository {
	return &consentRepository{db: db}
}

func (r *consentRepository) Create(ctx context.Context, record *models.ConsentRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *consentRepository) Update(ctx context.Context, record *models.ConsentRecord) error {
	return r.db.WithContext(ctx).Save(record).Error
}

func (r *consentRepository) FindByReference(ctx context.Context, ref string) (models.ConsentRecord, error) {
	var record models.ConsentRecord
	err := r.db.WithContext(ctx).Where("reference_id = ?", ref).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ConsentRecord{}, ErrRecordNotFound
	}
	return record, err
}

func (r *consentRepository) FindByVerificationCode(ctx context.Context, code string) (models.ConsentRecord, error) {
	var record models.ConsentRecord
	err := r.db.WithContext(ctx).Where("verification_code = ?", code).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ConsentRecord{}, ErrRecordNotFound
	}
	return record, err
}

func (r *consentRepository) LatestForStudent(ctx context.Context, studentID string) (models.ConsentRecord, error) {
	var record models.ConsentRecord
	err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("created_at DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ConsentRecord{}, ErrRecordNotFound
	}
	return record, err
}

// ExpirePending flips a single pending record to expired. The WHERE clause
// re-checks the status so a guardian decision that committed first wins over
// the sweep; the sweep then simply reports no rows affected.
func (r *consentRepository) ExpirePending(ctx context.Context, ref string, expiredAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ConsentRecord{}).
		Where("reference_id = ? AND status = ?", ref, models.ConsentStatusPending).
		Updates(map[string]interface{}{
			"status":     models.ConsentStatusExpired,
			"expired_at": expiredAt,
		})
	return result.RowsAffected > 0, result.Error
}

func (r *consentRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.ConsentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []models.ConsentRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND request_expires_at < ?", models.ConsentStatusPending, now).
		Limit(limit).
		Find(&records).Error
	return records, err
}
