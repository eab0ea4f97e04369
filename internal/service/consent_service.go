package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/brightpath-ed/safeguard-api/internal/dto"
	"github.com/brightpath-ed/safeguard-api/internal/models"
	"github.com/brightpath-ed/safeguard-api/internal/repository"
)

var (
	// ErrConsentNotFound indicates an unknown consent reference or code.
	ErrConsentNotFound = errors.New("consent record not found")
	// ErrConsentImmutable indicates a decision attempt on a locked record.
	ErrConsentImmutable = errors.New("consent record is immutable")
	// ErrConsentNotApproved indicates a revoke attempt on a non-approved record.
	ErrConsentNotApproved = errors.New("consent record is not approved")
	// ErrConsentNotPending indicates a decision on a record past its window.
	ErrConsentNotPending = errors.New("consent record is not pending")
)

const consentVersion = "2025-08"

// ConsentConfig tunes the lifecycle windows.
type ConsentConfig struct {
	// RequestWindow is how long a guardian has to act on the emailed link.
	RequestWindow time.Duration
	// ApprovalValidity is the validity window granted on approval.
	ApprovalValidity time.Duration
	// RenewalValidity is the shorter window granted to renewal records.
	RenewalValidity time.Duration
	// SweepInterval controls the background expiry sweep cadence.
	SweepInterval time.Duration
	// StatusCacheTTL bounds staleness of the gate's consent-status cache.
	StatusCacheTTL time.Duration
}

func (c ConsentConfig) withDefaults() ConsentConfig {
	if c.RequestWindow <= 0 {
		c.RequestWindow = 72 * time.Hour
	}
	if c.ApprovalValidity <= 0 {
		c.ApprovalValidity = 365 * 24 * time.Hour
	}
	if c.RenewalValidity <= 0 {
		c.RenewalValidity = 90 * 24 * time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 15 * time.Minute
	}
	if c.StatusCacheTTL <= 0 {
		c.StatusCacheTTL = 30 * time.Second
	}
	return c
}

// ConsentService owns the per-student consent record and its transitions.
type ConsentService interface {
	RequestConsent(ctx context.Context, req dto.ConsentRequestRequest) (dto.ConsentResponse, error)
	MarkLinkAccessed(ctx context.Context, verificationCode string) (dto.ConsentResponse, error)
	RecordDecision(ctx context.Context, req dto.ConsentDecisionRequest) (dto.ConsentResponse, error)
	Revoke(ctx context.Context, consentRef, reason, actorID, actorRole string) (dto.ConsentResponse, error)
	Renew(ctx context.Context, consentRef string) (dto.ConsentResponse, error)
	StatusFor(ctx context.Context, studentID string) (models.ConsentRecord, error)
	SweepExpirations(ctx context.Context) (int, error)
	Start(ctx context.Context)
}

type consentService struct {
	repo      repository.ConsentRepository
	audit     AuditService
	notifier  Notifier
	cache     *redis.Client
	validator *validator.Validate
	cfg       ConsentConfig
	logger    zerolog.Logger
	tracer    trace.Tracer
	clock     func() time.Time
}

// NewConsentService constructs the consent lifecycle manager.
func NewConsentService(repo repository.ConsentRepository, audit AuditService, notifier Notifier, cache *redis.Client, validate *validator.Validate, cfg ConsentConfig, logger zerolog.Logger) ConsentService {
	return &consentService{
		repo:      repo,
		audit:     audit,
		notifier:  notifier,
		cache:     cache,
		validator: validate,
		cfg:       cfg.withDefaults(),
		logger:    logger.With().Str("component", "consent_service").Logger(),
		tracer:    otel.Tracer("github.com/brightpath-ed/safeguard-api/internal/service/consent"),
		clock:     time.Now,
	}
}

func (s *consentService) RequestConsent(ctx context.Context, req dto.ConsentRequestRequest) (dto.ConsentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "consent.request")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		span.RecordError(err)
		return dto.ConsentResponse{}, err
	}

	now := s.clock().UTC()
	code, err := newVerificationCode()
	if err != nil {
		return dto.ConsentResponse{}, err
	}

	record := models.ConsentRecord{
		ReferenceID:      uuid.New().String(),
		StudentID:        req.StudentID,
		SchoolID:         req.SchoolID,
		GuardianName:     strings.TrimSpace(req.GuardianName),
		GuardianEmail:    strings.ToLower(strings.TrimSpace(req.GuardianEmail)),
		ConsentVersion:   consentVersion,
		Status:           models.ConsentStatusPending,
		VerificationCode: code,
		RequestedAt:      now,
		RequestExpiresAt: now.Add(s.cfg.RequestWindow),
	}

	if err := s.repo.Create(ctx, &record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		return dto.ConsentResponse{}, err
	}
	s.invalidateStatus(ctx, record.StudentID)

	if err := s.auditTransition(ctx, record, "requested", "", true, ""); err != nil {
		return dto.ConsentResponse{}, err
	}
	s.notifyGuardian(ctx, record, "consent_requested")

	span.SetAttributes(attribute.String("consent.ref", record.ReferenceID))
	return dto.NewConsentResponse(record), nil
}

func (s *consentService) MarkLinkAccessed(ctx context.Context, verificationCode string) (dto.ConsentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "consent.link_accessed")
	defer span.End()

	record, err := s.repo.FindByVerificationCode(ctx, verificationCode)
	if err != nil {
		return dto.ConsentResponse{}, s.mapNotFound(err)
	}

	if record.LinkAccessedAt == nil && record.Status == models.ConsentStatusPending {
		now := s.clock().UTC()
		record.LinkAccessedAt = &now
		if err := s.repo.Update(ctx, &record); err != nil {
			span.RecordError(err)
			return dto.ConsentResponse{}, err
		}
		if err := s.auditTransition(ctx, record, "link_accessed", "", true, ""); err != nil {
			return dto.ConsentResponse{}, err
		}
	}

	return dto.NewConsentResponse(record), nil
}

func (s *consentService) RecordDecision(ctx context.Context, req dto.ConsentDecisionRequest) (dto.ConsentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "consent.decision")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		span.RecordError(err)
		return dto.ConsentResponse{}, err
	}

	record, err := s.repo.FindByVerificationCode(ctx, req.VerificationCode)
	if err != nil {
		return dto.ConsentResponse{}, s.mapNotFound(err)
	}

	if record.IsImmutable {
		span.SetStatus(codes.Error, "immutable")
		return dto.ConsentResponse{}, ErrConsentImmutable
	}
	if record.Status != models.ConsentStatusPending {
		span.SetStatus(codes.Error, "not pending")
		return dto.ConsentResponse{}, ErrConsentNotPending
	}

	now := s.clock().UTC()
	record.Status = req.Decision
	record.DecidedAt = &now
	record.IsImmutable = true

	if req.Decision == models.ConsentStatusApproved {
		validity := s.cfg.ApprovalValidity
		if record.IsRenewal {
			validity = s.cfg.RenewalValidity
		}
		until := now.Add(validity)
		record.ValidFrom = &now
		record.ValidUntil = &until
	}

	if err := s.repo.Update(ctx, &record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		return dto.ConsentResponse{}, err
	}
	s.invalidateStatus(ctx, record.StudentID)

	if err := s.auditTransition(ctx, record, "decided", "", true, ""); err != nil {
		return dto.ConsentResponse{}, err
	}
	s.notifyGuardian(ctx, record, "consent_"+record.Status)

	return dto.NewConsentResponse(record), nil
}

func (s *consentService) Revoke(ctx context.Context, consentRef, reason, actorID, actorRole string) (dto.ConsentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "consent.revoke")
	defer span.End()

	record, err := s.repo.FindByReference(ctx, consentRef)
	if err != nil {
		return dto.ConsentResponse{}, s.mapNotFound(err)
	}

	if record.Status != models.ConsentStatusApproved {
		span.SetStatus(codes.Error, "not approved")
		return dto.ConsentResponse{}, ErrConsentNotApproved
	}

	// Original decision timestamps are retained alongside the revocation.
	now := s.clock().UTC()
	record.Status = models.ConsentStatusRevoked
	record.RevokedAt = &now
	record.RevokeReason = strings.TrimSpace(reason)
	record.RevokedBy = actorID

	if err := s.repo.Update(ctx, &record); err != nil {
		span.RecordError(err)
		return dto.ConsentResponse{}, err
	}
	s.invalidateStatus(ctx, record.StudentID)

	if err := s.auditTransitionBy(ctx, record, "revoked", record.RevokeReason, actorID, actorRole, true, ""); err != nil {
		return dto.ConsentResponse{}, err
	}

	return dto.NewConsentResponse(record), nil
}

func (s *consentService) Renew(ctx context.Context, consentRef string) (dto.ConsentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "consent.renew")
	defer span.End()

	previous, err := s.repo.FindByReference(ctx, consentRef)
	if err != nil {
		return dto.ConsentResponse{}, s.mapNotFound(err)
	}

	now := s.clock().UTC()
	code, err := newVerificationCode()
	if err != nil {
		return dto.ConsentResponse{}, err
	}

	record := models.ConsentRecord{
		ReferenceID:      uuid.New().String(),
		StudentID:        previous.StudentID,
		SchoolID:         previous.SchoolID,
		GuardianName:     previous.GuardianName,
		GuardianEmail:    previous.GuardianEmail,
		ConsentVersion:   consentVersion,
		Status:           models.ConsentStatusPending,
		VerificationCode: code,
		IsRenewal:        true,
		SupersedesRef:    previous.ReferenceID,
		RequestedAt:      now,
		RequestExpiresAt: now.Add(s.cfg.RequestWindow),
	}

	if err := s.repo.Create(ctx, &record); err != nil {
		span.RecordError(err)
		return dto.ConsentResponse{}, err
	}
	s.invalidateStatus(ctx, record.StudentID)

	if err := s.auditTransition(ctx, record, "renewal_requested", "", true, ""); err != nil {
		return dto.ConsentResponse{}, err
	}
	s.notifyGuardian(ctx, record, "consent_renewal")

	return dto.NewConsentResponse(record), nil
}

// StatusFor returns the latest consent record for a student, consulting a
// short-lived cache so the access gate stays cheap under load.
func (s *consentService) StatusFor(ctx context.Context, studentID string) (models.ConsentRecord, error) {
	if s.cache != nil {
		key := consentStatusKey(studentID)
		if ref, err := s.cache.Get(ctx, key).Result(); err == nil && ref != "" {
			if record, err := s.repo.FindByReference(ctx, ref); err == nil {
				return record, nil
			}
		}
	}

	record, err := s.repo.LatestForStudent(ctx, studentID)
	if err != nil {
		return models.ConsentRecord{}, s.mapNotFound(err)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, consentStatusKey(studentID), record.ReferenceID, s.cfg.StatusCacheTTL).Err()
	}
	return record, nil
}

// SweepExpirations transitions pending records past their window to expired.
// The per-record conditional update keeps the sweep idempotent and lets an
// in-flight guardian decision win the race.
func (s *consentService) SweepExpirations(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "consent.sweep")
	defer span.End()

	now := s.clock().UTC()
	candidates, err := s.repo.ListExpiredPending(ctx, now, 100)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	expired := 0
	for _, record := range candidates {
		flipped, err := s.repo.ExpirePending(ctx, record.ReferenceID, now)
		if err != nil {
			span.RecordError(err)
			return expired, err
		}
		if !flipped {
			continue
		}
		expired++
		record.Status = models.ConsentStatusExpired
		record.ExpiredAt = &now
		s.invalidateStatus(ctx, record.StudentID)
		if err := s.auditTransition(ctx, record, "expired", "", true, ""); err != nil {
			return expired, err
		}
	}

	span.SetAttributes(attribute.Int("consent.expired_count", expired))
	return expired, nil
}

// Start runs the periodic expiry sweep until ctx is cancelled.
func (s *consentService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if count, err := s.SweepExpirations(ctx); err != nil {
					s.logger.Error().Err(err).Msg("consent expiry sweep failed")
				} else if count > 0 {
					s.logger.Info().Int("expired", count).Msg("consent expiry sweep completed")
				}
			}
		}
	}()
}

func (s *consentService) auditTransition(ctx context.Context, record models.ConsentRecord, transition, reason string, success bool, errMsg string) error {
	return s.auditTransitionBy(ctx, record, transition, reason, "system", "system", success, errMsg)
}

func (s *consentService) auditTransitionBy(ctx context.Context, record models.ConsentRecord, transition, reason, actorID, actorRole string, success bool, errMsg string) error {
	detail := map[string]interface{}{
		"schema_version": "v1",
		"transition":     transition,
		"consent_status": record.Status,
	}
	if reason != "" {
		detail["reason"] = reason
	}
	return s.audit.Append(ctx, AuditEntry{
		EventType:   models.AuditConsentLifecycle,
		ActorID:     actorID,
		ActorRole:   actorRole,
		SubjectType: "consent",
		SubjectID:   record.ReferenceID,
		Action:      "consent_" + transition,
		Detail:      detail,
		Success:     success,
		Error:       errMsg,
	})
}

// notifyGuardian is a non-critical side effect: failures are logged and
// audited but never block the consent transition.
func (s *consentService) notifyGuardian(ctx context.Context, record models.ConsentRecord, reason string) {
	err := s.notifier.NotifyGuardian(ctx, record, reason)
	delivered := err == nil
	if err != nil {
		s.logger.Warn().Err(err).Str("consent_ref", record.ReferenceID).Msg("guardian notification failed")
	}
	auditErr := s.audit.Append(ctx, AuditEntry{
		EventType:   models.AuditNotification,
		ActorID:     "system",
		ActorRole:   "system",
		SubjectType: "consent",
		SubjectID:   record.ReferenceID,
		Action:      reason,
		Detail: map[string]interface{}{
			"schema_version": "v1",
			"channel":        "guardian_email",
			"delivered":      delivered,
		},
		Success: delivered,
	})
	if auditErr != nil {
		s.logger.Error().Err(auditErr).Msg("failed to audit guardian notification")
	}
}

func (s *consentService) invalidateStatus(ctx context.Context, studentID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, consentStatusKey(studentID)).Err(); err != nil {
		s.logger.Warn().Err(err).Str("student_id", studentID).Msg("consent status cache invalidation failed")
	}
}

func (s *consentService) mapNotFound(err error) error {
	if errors.Is(err, repository.ErrRecordNotFound) {
		return ErrConsentNotFound
	}
	return err
}

func consentStatusKey(studentID string) string {
	return fmt.Sprintf("consent:latest:%s", studentID)
}

// newVerificationCode returns a non-forgeable, URL-safe code for the guardian
// decision link.
func newVerificationCode() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
