package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/brightpath-ed/safeguard-api/internal/dto"
	"github.com/brightpath-ed/safeguard-api/internal/models"
	"github.com/brightpath-ed/safeguard-api/internal/observability"
	"github.com/brightpath-ed/safeguard-api/internal/repository"
)

var (
	// ErrReportNotFound indicates an unknown report number.
	ErrReportNotFound = errors.New("safety report not found")
	// ErrIllegalReportTransition indicates a state-machine violation.
	ErrIllegalReportTransition = errors.New("illegal report status transition")
	// ErrSubmissionFailed wraps an exhausted external submission attempt. The
	// report stays pending; it is never optimistically marked submitted.
	ErrSubmissionFailed = errors.New("external report submission failed")
)

// Submitter is the external reporting boundary. Implementations decide the
// vendor protocol; the service only relies on success/failure semantics.
type Submitter interface {
	Submit(ctx context.Context, report models.SafetyReport) error
}

// SubmitterFunc adapts a function to the Submitter interface.
type SubmitterFunc func(ctx context.Context, report models.SafetyReport) error

// Submit implements Submitter.
func (f SubmitterFunc) Submit(ctx context.Context, report models.SafetyReport) error {
	return f(ctx, report)
}

// ReportConfig tunes submission retry behaviour.
type ReportConfig struct {
	SubmitRetries int
	RetryBackoff  time.Duration
}

func (c ReportConfig) withDefaults() ReportConfig {
	if c.SubmitRetries <= 0 {
		c.SubmitRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	return c
}

// ReportService evaluates crisis signals and drives mandatory reports through
// their lifecycle: pending, submitted, acknowledged, escalated, closed.
type ReportService interface {
	Evaluate(ctx context.Context, req dto.SignalEvaluateRequest) (dto.SignalEvaluation, error)
	CreateReport(ctx context.Context, reportedBy string, req dto.ReportCreateRequest) (dto.ReportResponse, error)
	Submit(ctx context.Context, reportNumber string) (dto.ReportResponse, error)
	Acknowledge(ctx context.Context, reportNumber, actorID string) (dto.ReportResponse, error)
	Escalate(ctx context.Context, reportNumber, actorID string, procedures []string) (dto.ReportResponse, error)
	RecordEscalationResponse(ctx context.Context, reportNumber, procedureType, note string) (dto.ReportResponse, error)
	Close(ctx context.Context, reportNumber, actorID, reason string) (dto.ReportResponse, error)
	Get(ctx context.Context, reportNumber string) (dto.ReportResponse, error)
	List(ctx context.Context, status string, limit int) ([]dto.ReportResponse, error)
}

type reportService struct {
	repo      repository.ReportRepository
	audit     AuditService
	notifier  Notifier
	submitter Submitter
	policy    ReportPolicy
	cfg       ReportConfig
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	clock     func() time.Time
	sleep     func(time.Duration)
}

// NewReportService constructs the mandatory reporting escalator.
func NewReportService(repo repository.ReportRepository, audit AuditService, notifier Notifier, submitter Submitter, policy ReportPolicy, cfg ReportConfig, validate *validator.Validate, logger zerolog.Logger) ReportService {
	if policy == nil {
		policy = DefaultReportPolicy()
	}
	return &reportService{
		repo:      repo,
		audit:     audit,
		notifier:  notifier,
		submitter: submitter,
		policy:    policy,
		cfg:       cfg.withDefaults(),
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "report_service").Logger(),
		tracer:    otel.Tracer("github.com/brightpath-ed/safeguard-api/internal/service/reporting"),
		clock:     time.Now,
		sleep:     time.Sleep,
	}
}

// Evaluate is a pure classification over the policy table; it has no side
// effects and is safe to call speculatively.
func (s *reportService) Evaluate(_ context.Context, req dto.SignalEvaluateRequest) (dto.SignalEvaluation, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SignalEvaluation{}, err
	}
	return s.policy.Evaluate(req.Content, req.SafetyLevel), nil
}

func (s *reportService) CreateReport(ctx context.Context, reportedBy string, req dto.ReportCreateRequest) (dto.ReportResponse, error) {
	ctx, span := s.tracer.Start(ctx, "reporting.create")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		span.RecordError(err)
		return dto.ReportResponse{}, err
	}

	description := RedactPII(strings.TrimSpace(s.sanitizer.Sanitize(req.Description)))
	report := models.SafetyReport{
		ReportNumber: fmt.Sprintf("SR-%s", uuid.New().String()),
		ReportType:   req.ReportType,
		Urgency:      req.Urgency,
		Description:  description,
		SubjectRef:   req.SubjectRef,
		ReportedBy:   reportedBy,
		Status:       models.ReportStatusPending,
	}

	if err := s.repo.Create(ctx, &report); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		return dto.ReportResponse{}, err
	}

	span.SetAttributes(attribute.String("report.number", report.ReportNumber))
	if err := s.auditTransition(ctx, report, "created", reportedBy); err != nil {
		return dto.ReportResponse{}, err
	}

	// Emergency reports cannot wait for an operator: submission happens
	// synchronously with creation.
	if report.Urgency == models.UrgencyEmergency {
		return s.submit(ctx, report)
	}

	return dto.NewReportResponse(report), nil
}

func (s *reportService) Submit(ctx context.Context, reportNumber string) (dto.ReportResponse, error) {
	report, err := s.repo.FindByNumber(ctx, reportNumber)
	if err != nil {
		return dto.ReportResponse{}, s.mapNotFound(err)
	}
	if report.Status != models.ReportStatusPending {
		return dto.ReportResponse{}, ErrIllegalReportTransition
	}
	return s.submit(ctx, report)
}

// submit performs the external submission with bounded retries. On failure
// the report remains pending and an operator alert is raised; the status
// never flips before a success response is observed.
func (s *reportService) submit(ctx context.Context, report models.SafetyReport) (dto.ReportResponse, error) {
	ctx, span := s.tracer.Start(ctx, "reporting.submit")
	defer span.End()

	var submitErr error
	for attempt := 0; attempt < s.cfg.SubmitRetries; attempt++ {
		if attempt > 0 {
			s.sleep(s.cfg.RetryBackoff * time.Duration(attempt))
		}
		if submitErr = s.submitter.Submit(ctx, report); submitErr == nil {
			break
		}
	}

	if submitErr != nil {
		span.RecordError(submitErr)
		span.SetStatus(codes.Error, "submission failed")
		observability.ReportSubmissions().WithLabelValues(report.Urgency, "failed").Inc()
		if err := s.notifier.AlertFailedSubmission(ctx, report, submitErr.Error()); err != nil {
			s.logger.Error().Err(err).Str("report_number", report.ReportNumber).Msg("failed to raise submission alert")
		}
		if err := s.auditTransitionErr(ctx, report, "submission_failed", "system", submitErr.Error()); err != nil {
			return dto.ReportResponse{}, err
		}
		return dto.NewReportResponse(report), fmt.Errorf("%w: %v", ErrSubmissionFailed, submitErr)
	}

	now := s.clock().UTC()
	report.Status = models.ReportStatusSubmitted
	report.SubmittedAt = &now
	if err := s.repo.Update(ctx, &report); err != nil {
		span.RecordError(err)
		return dto.ReportResponse{}, err
	}

	observability.ReportSubmissions().WithLabelValues(report.Urgency, "submitted").Inc()
	if err := s.auditTransition(ctx, report, "submitted", "system"); err != nil {
		return dto.ReportResponse{}, err
	}

	if report.Urgency == models.UrgencyEmergency {
		if err := s.triggerEscalation(ctx, &report); err != nil {
			return dto.ReportResponse{}, err
		}
	}

	return dto.NewReportResponse(report), nil
}

// triggerEscalation creates the emergency escalation procedures that must
// accompany an emergency submission. The report itself stays submitted;
// the escalated status is reserved for the explicit escalate transition.
func (s *reportService) triggerEscalation(ctx context.Context, report *models.SafetyReport) error {
	now := s.clock().UTC()
	for _, procedureType := range []string{models.EscalationEmergencyServices, models.EscalationLocalAuthorities} {
		escalation := models.EscalationProcedure{
			ReportID:      report.ID,
			ProcedureType: procedureType,
			TriggeredAt:   now,
		}
		if err := s.repo.AddEscalation(ctx, &escalation); err != nil {
			return err
		}
		report.Escalations = append(report.Escalations, escalation)
		if err := s.auditEscalation(ctx, *report, procedureType); err != nil {
			return err
		}
	}
	return nil
}

func (s *reportService) Acknowledge(ctx context.Context, reportNumber, actorID string) (dto.ReportResponse, error) {
	report, err := s.repo.FindByNumber(ctx, reportNumber)
	if err != nil {
		return dto.ReportResponse{}, s.mapNotFound(err)
	}
	if report.Status != models.ReportStatusSubmitted {
		return dto.ReportResponse{}, ErrIllegalReportTransition
	}

	now := s.clock().UTC()
	report.Status = models.ReportStatusAcknowledged
	report.AcknowledgedAt = &now
	if err := s.repo.Update(ctx, &report); err != nil {
		return dto.ReportResponse{}, err
	}
	if err := s.auditTransition(ctx, report, "acknowledged", actorID); err != nil {
		return dto.ReportResponse{}, err
	}
	return dto.NewReportResponse(report), nil
}

func (s *reportService) Escalate(ctx context.Context, reportNumber, actorID string, procedures []string) (dto.ReportResponse, error) {
	report, err := s.repo.FindByNumber(ctx, reportNumber)
	if err != nil {
		return dto.ReportResponse{}, s.mapNotFound(err)
	}
	if report.Status != models.ReportStatusSubmitted && report.Status != models.ReportStatusAcknowledged {
		return dto.ReportResponse{}, ErrIllegalReportTransition
	}
	if len(procedures) == 0 {
		procedures = []string{models.EscalationLocalAuthorities}
	}

	now := s.clock().UTC()
	for _, procedureType := range procedures {
		switch procedureType {
		case models.EscalationLocalAuthorities, models.EscalationStateCPS, models.EscalationFBI, models.EscalationEmergencyServices:
		default:
			return dto.ReportResponse{}, fmt.Errorf("unknown escalation procedure %q", procedureType)
		}
		escalation := models.EscalationProcedure{
			ReportID:      report.ID,
			ProcedureType: procedureType,
			TriggeredAt:   now,
		}
		if err := s.repo.AddEscalation(ctx, &escalation); err != nil {
			return dto.ReportResponse{}, err
		}
		report.Escalations = append(report.Escalations, escalation)
		if err := s.auditEscalation(ctx, report, procedureType); err != nil {
			return dto.ReportResponse{}, err
		}
	}

	report.Status = models.ReportStatusEscalated
	if err := s.repo.Update(ctx, &report); err != nil {
		return dto.ReportResponse{}, err
	}
	if err := s.auditTransition(ctx, report, "escalated", actorID); err != nil {
		return dto.ReportResponse{}, err
	}
	return dto.NewReportResponse(report), nil
}

func (s *reportService) RecordEscalationResponse(ctx context.Context, reportNumber, procedureType, note string) (dto.ReportResponse, error) {
	report, err := s.repo.FindByNumber(ctx, reportNumber)
	if err != nil {
		return dto.ReportResponse{}, s.mapNotFound(err)
	}

	now := s.clock().UTC()
	found := false
	for i := range report.Escalations {
		if report.Escalations[i].ProcedureType == procedureType && report.Escalations[i].ResponseAt == nil {
			report.Escalations[i].ResponseAt = &now
			report.Escalations[i].ResponseNote = note
			if err := s.repo.UpdateEscalation(ctx, &report.Escalations[i]); err != nil {
				return dto.ReportResponse{}, err
			}
			found = true
			break
		}
	}
	if !found {
		return dto.ReportResponse{}, fmt.Errorf("no open escalation of type %q on report %s", procedureType, reportNumber)
	}

	if err := s.auditEscalation(ctx, report, procedureType); err != nil {
		return dto.ReportResponse{}, err
	}
	return dto.NewReportResponse(report), nil
}

func (s *reportService) Close(ctx context.Context, reportNumber, actorID, reason string) (dto.ReportResponse, error) {
	report, err := s.repo.FindByNumber(ctx, reportNumber)
	if err != nil {
		return dto.ReportResponse{}, s.mapNotFound(err)
	}
	switch report.Status {
	case models.ReportStatusSubmitted, models.ReportStatusAcknowledged, models.ReportStatusEscalated:
	default:
		// A pending report cannot be silently abandoned; it must be
		// submitted (or fail loudly) before it can close.
		return dto.ReportResponse{}, ErrIllegalReportTransition
	}

	now := s.clock().UTC()
	report.Status = models.ReportStatusClosed
	report.ClosedAt = &now
	report.CloseReason = strings.TrimSpace(reason)
	if err := s.repo.Update(ctx, &report); err != nil {
		return dto.ReportResponse{}, err
	}
	if err := s.auditTransition(ctx, report, "closed", actorID); err != nil {
		return dto.ReportResponse{}, err
	}
	return dto.NewReportResponse(report), nil
}

func (s *reportService) Get(ctx context.Context, reportNumber string) (dto.ReportResponse, error) {
	report, err := s.repo.FindByNumber(ctx, reportNumber)
	if err != nil {
		return dto.ReportResponse{}, s.mapNotFound(err)
	}
	return dto.NewReportResponse(report), nil
}

func (s *reportService) List(ctx context.Context, status string, limit int) ([]dto.ReportResponse, error) {
	reports, err := s.repo.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	out := make([]dto.ReportResponse, 0, len(reports))
	for _, report := range reports {
		out = append(out, dto.NewReportResponse(report))
	}
	return out, nil
}

func (s *reportService) auditTransition(ctx context.Context, report models.SafetyReport, transition, actorID string) error {
	return s.auditTransitionErr(ctx, report, transition, actorID, "")
}

func (s *reportService) auditTransitionErr(ctx context.Context, report models.SafetyReport, transition, actorID, errMsg string) error {
	return s.audit.Append(ctx, AuditEntry{
		EventType:   models.AuditMandatoryReport,
		ActorID:     actorID,
		ActorRole:   "system",
		SubjectType: "report",
		SubjectID:   report.ReportNumber,
		Action:      "report_" + transition,
		Detail: map[string]interface{}{
			"schema_version": "v1",
			"transition":     transition,
			"report_type":    report.ReportType,
			"urgency":        report.Urgency,
		},
		Success: errMsg == "",
		Error:   errMsg,
	})
}

func (s *reportService) auditEscalation(ctx context.Context, report models.SafetyReport, procedureType string) error {
	return s.audit.Append(ctx, AuditEntry{
		EventType:   models.AuditMandatoryReport,
		ActorID:     "system",
		ActorRole:   "system",
		SubjectType: "report",
		SubjectID:   report.ReportNumber,
		Action:      "escalation_procedure",
		Detail: map[string]interface{}{
			"schema_version": "v1",
			"transition":     "escalation",
			"report_type":    report.ReportType,
			"urgency":        report.Urgency,
			"procedure_type": procedureType,
		},
		Success: true,
	})
}

func (s *reportService) mapNotFound(err error) error {
	if errors.Is(err, repository.ErrRecordNotFound) {
		return ErrReportNotFound
	}
	return err
}
