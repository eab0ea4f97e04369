package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/brightpath-ed/safeguard-api/internal/models"
)

// ContactRepository persists encrypted emergency contacts. Only the access
// counters ever change after creation.
type ContactRepository interface {
	Create(ctx context.Context, contact *models.EncryptedEmergencyContact) error
	FindByReference(ctx context.Context, ref string) (models.EncryptedEmergencyContact, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.EncryptedEmergencyContact, error)
	IncrementAccess(ctx context.Context, ref string, accessedAt time.Time) error
}

type contactRepository struct {
	db *gorm.DB
}

// NewContactRepository constructs a repository backed by GORM.
func NewContactRepository(db *gorm.DB) ContactRepository {
	return &contactRepository{db: db}
}

func (r *contactRepository) Create(ctx context.Context, contact *models.EncryptedEmergencyContact) error {
	return r.db.WithContext(ctx).Create(contact).Error
}

func (r *contactRepository) FindByReference(ctx context.Context, ref string) (models.EncryptedEmergencyContact, error) {
	var contact models.EncryptedEmergencyContact
	err := r.db.WithContext(ctx).Where("reference_id = ?", ref).First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.EncryptedEmergencyContact{}, ErrRecordNotFound
	}
	return contact, err
}

func (r *contactRepository) ListByStudent(ctx context.Context, studentID string) ([]models.EncryptedEmergencyContact, error) {
	var contacts []models.EncryptedEmergencyContact
	err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("created_at DESC").
		Find(&contacts).Error
	return contacts, err
}

func (r *contactRepository) IncrementAccess(ctx context.Context, ref string, accessedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.EncryptedEmergencyContact{}).
		Where("reference_id = ?", ref).
		Updates(map[string]interface{}{
			"access_count":     gorm.Expr("access_count + 1"),
			"last_accessed_at": accessedAt,
		}).Error
}

// KeyRepository stores wrapped data keys. Blobs are opaque to this layer.
type KeyRepository interface {
	Store(ctx context.Context, key *models.WrappedKey) error
	Retrieve(ctx context.Context, keyID string) (models.WrappedKey, error)
}

type keyRepository struct {
	db *gorm.DB
}

// NewKeyRepository constructs a repository backed by GORM.
func NewKeyRepository(db *gorm.DB) KeyRepository {
	return &keyRepository{db: db}
}

func (r *keyRepository) Store(ctx context.Context, key *models.WrappedKey) error {
	return r.db.WithContext(ctx).Create(key).Error
}

func (r *keyRepository) Retrieve(ctx context.Context, keyID string) (models.WrappedKey, error) {
	var key models.WrappedKey
	err := r.db.WithContext(ctx).Where("key_id = ?", keyID).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.WrappedKey{}, ErrRecordNotFound
	}
	return key, err
}
