package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/brightpath-ed/safeguard-api/internal/models"
)

// StudentRepository resolves the account projection the access gate consults.
type StudentRepository interface {
	FindByStudentID(ctx context.Context, studentID string) (models.StudentAccount, error)
	Upsert(ctx context.Context, account *models.StudentAccount) error
}

type studentRepository struct {
	db *gorm.DB
}

// NewStudentRepository constructs a repository backed by GORM.
func NewStudentRepository(db *gorm.DB) StudentRepository {
	return &studentRepository{db: db}
}

func (r *studentRepository) FindByStudentID(ctx context.Context, studentID string) (models.StudentAccount, error) {
	var account models.StudentAccount
	err := r.db.WithContext(ctx).Where("student_id = ?", studentID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.StudentAccount{}, ErrRecordNotFound
	}
	return account, err
}

func (r *studentRepository) Upsert(ctx context.Context, account *models.StudentAccount) error {
	var existing models.StudentAccount
	err := r.db.WithContext(ctx).Where("student_id = ?", account.StudentID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.WithContext(ctx).Create(account).Error
	}
	if err != nil {
		return err
	}
	account.ID = existing.ID
	return r.db.WithContext(ctx).Save(account).Error
}
