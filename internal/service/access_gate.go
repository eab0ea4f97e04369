package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/brightpath-ed/safeguard-api/internal/models"
	"github.com/brightpath-ed/safeguard-api/internal/observability"
	"github.com/brightpath-ed/safeguard-api/internal/repository"
)

// Minors younger than this need an approved guardian consent.
const consentAgeThreshold = 13

// GateDecision is the outcome of one access-gate evaluation.
type GateDecision struct {
	Allowed       bool
	ConsentStatus string
	Message       string
}

// AccessGateService composes consent state with the age computation to allow
// or block every protected operation. Internal failures block access: the
// gate fails closed, never open.
type AccessGateService interface {
	Check(ctx context.Context, actorID, actorRole, path string) (GateDecision, error)
}

type accessGateService struct {
	students repository.StudentRepository
	consent  ConsentService
	audit    AuditService
	logger   zerolog.Logger
	tracer   trace.Tracer
	clock    func() time.Time
}

// NewAccessGateService constructs the gate.
func NewAccessGateService(students repository.StudentRepository, consent ConsentService, audit AuditService, logger zerolog.Logger) AccessGateService {
	return &accessGateService{
		students: students,
		consent:  consent,
		audit:    audit,
		logger:   logger.With().Str("component", "access_gate").Logger(),
		tracer:   otel.Tracer("github.com/brightpath-ed/safeguard-api/internal/service/gate"),
		clock:    time.Now,
	}
}

func (s *accessGateService) Check(ctx context.Context, actorID, actorRole, path string) (GateDecision, error) {
	ctx, span := s.tracer.Start(ctx, "gate.check")
	defer span.End()
	span.SetAttributes(attribute.String("gate.role", actorRole))

	if actorRole != "minor" {
		observability.GateDecisions().WithLabelValues("allow", "n/a").Inc()
		return GateDecision{Allowed: true}, nil
	}

	account, err := s.students.FindByStudentID(ctx, actorID)
	if err != nil {
		return s.failClosed(ctx, actorID, actorRole, path, err)
	}

	if account.AgeAt(s.clock().UTC()) >= consentAgeThreshold {
		observability.GateDecisions().WithLabelValues("allow", "n/a").Inc()
		return GateDecision{Allowed: true}, nil
	}

	record, err := s.consent.StatusFor(ctx, actorID)
	if err != nil {
		if errors.Is(err, ErrConsentNotFound) {
			return s.block(ctx, actorID, actorRole, path, "none")
		}
		return s.failClosed(ctx, actorID, actorRole, path, err)
	}

	if record.ActiveAt(s.clock().UTC()) && account.IsAccountActive {
		observability.GateDecisions().WithLabelValues("allow", record.Status).Inc()
		return GateDecision{Allowed: true, ConsentStatus: record.Status}, nil
	}

	return s.block(ctx, actorID, actorRole, path, record.Status)
}

func (s *accessGateService) block(ctx context.Context, actorID, actorRole, path, consentStatus string) (GateDecision, error) {
	observability.GateDecisions().WithLabelValues("block", consentStatus).Inc()

	message := "access requires guardian consent; please ask your guardian or school to complete the consent process"
	switch consentStatus {
	case models.ConsentStatusPending:
		message = "a consent request was already sent to your guardian; access unlocks once they approve it"
	case models.ConsentStatusApproved:
		// Consent exists but the account is inactive or the validity
		// window has lapsed; asking the guardian again would not help.
		message = "guardian consent is on file but your account is not currently active; please contact your school"
	}

	if err := s.auditBlock(ctx, actorID, actorRole, path, consentStatus, ""); err != nil {
		return GateDecision{}, err
	}
	return GateDecision{Allowed: false, ConsentStatus: consentStatus, Message: message}, nil
}

// failClosed blocks on internal gate errors. The caller sees a block, not
// the underlying failure; the detail lands in the audit trail and log.
func (s *accessGateService) failClosed(ctx context.Context, actorID, actorRole, path string, cause error) (GateDecision, error) {
	observability.GateDecisions().WithLabelValues("fail_closed", "unknown").Inc()
	s.logger.Error().Err(cause).Str("student_id", actorID).Msg("access gate dependency failure; blocking")

	if err := s.auditBlock(ctx, actorID, actorRole, path, "unknown", cause.Error()); err != nil {
		s.logger.Error().Err(err).Msg("failed to audit gate failure")
	}
	return GateDecision{
		Allowed:       false,
		ConsentStatus: "unknown",
		Message:       "access temporarily unavailable; please contact your school",
	}, nil
}

func (s *accessGateService) auditBlock(ctx context.Context, actorID, actorRole, path, consentStatus, errMsg string) error {
	return s.audit.Append(ctx, AuditEntry{
		EventType:   models.AuditCrisisDataAccess,
		ActorID:     actorID,
		ActorRole:   actorRole,
		SubjectType: "route",
		SubjectID:   path,
		Action:      "access_blocked",
		Detail: map[string]interface{}{
			"schema_version": "v1",
			"blocked":        true,
			"consent_status": consentStatus,
		},
		Success: errMsg == "",
		Error:   errMsg,
	})
}
