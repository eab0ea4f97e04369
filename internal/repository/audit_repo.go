package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/brightpath-ed/safeguard-api/internal/models"
)

// AuditFilter narrows an audit trail query.
type AuditFilter struct {
	EventType string
	ActorID   string
	SubjectID string
	Since     *time.Time
	Until     *time.Time
	Limit     int
}

// AuditRepository is append-only by design: there is no update or delete.
type AuditRepository interface {
	Create(ctx context.Context, event *models.AuditEvent) error
	List(ctx context.Context, filter AuditFilter) ([]models.AuditEvent, error)
	CountBySubject(ctx context.Context, subjectID string) (int64, error)
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository constructs a repository backed by GORM.
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, event *models.AuditEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *auditRepository) List(ctx context.Context, filter AuditFilter) ([]models.AuditEvent, error) {
	query := r.db.WithContext(ctx).Model(&models.AuditEvent{})

	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	if filter.ActorID != "" {
		query = query.Where("actor_id = ?", filter.ActorID)
	}
	if filter.SubjectID != "" {
		query = query.Where("subject_id = ?", filter.SubjectID)
	}
	if filter.Since != nil {
		query = query.Where("occurred_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		query = query.Where("occurred_at <= ?", *filter.Until)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var events []models.AuditEvent
	err := query.Order("occurred_at ASC, id ASC").Limit(limit).Find(&events).Error
	return events, err
}

func (r *auditRepository) CountBySubject(ctx context.Context, subjectID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.AuditEvent{}).
		Where("subject_id = ?", subjectID).
		Count(&count).Error
	return count, err
}
