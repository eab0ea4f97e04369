package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/brightpath-ed/safeguard-api/internal/models"
)

// ReportRepository persists safety reports and their escalation procedures.
type ReportRepository interface {
	Create(ctx context.Context, report *models.SafetyReport) error
	Update(ctx context.Context, report *models.SafetyReport) error
	FindByNumber(ctx context.Context, number string) (models.SafetyReport, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]models.SafetyReport, error)
	AddEscalation(ctx context.Context, escalation *models.EscalationProcedure) error
	UpdateEscalation(ctx context.Context, escalation *models.EscalationProcedure) error
}

type reportRepository struct {
	db *gorm.DB
}

// NewReportRepository constructs a repository backed by GORM.
func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepository{db: db}
}

func (r *reportRepository) Create(ctx context.Context, report *models.SafetyReport) error {
	return r.db.WithContext(ctx).Create(report).Error
}

func (r *reportRepository) Update(ctx context.Context, report *models.SafetyReport) error {
	return r.db.WithContext(ctx).Omit("Escalations").Save(report).Error
}

func (r *reportRepository) FindByNumber(ctx context.Context, number string) (models.SafetyReport, error) {
	var report models.SafetyReport
	err := r.db.WithContext(ctx).
		Preload("Escalations").
		Where("report_number = ?", number).
		First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.SafetyReport{}, ErrRecordNotFound
	}
	return report, err
}

func (r *reportRepository) ListByStatus(ctx context.Context, status string, limit int) ([]models.SafetyReport, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Preload("Escalations").Order("created_at DESC").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var reports []models.SafetyReport
	err := query.Find(&reports).Error
	return reports, err
}

func (r *reportRepository) AddEscalation(ctx context.Context, escalation *models.EscalationProcedure) error {
	return r.db.WithContext(ctx).Create(escalation).Error
}

func (r *reportRepository) UpdateEscalation(ctx context.Context, escalation *models.EscalationProcedure) error {
	return r.db.WithContext(ctx).Save(escalation).Error
}
