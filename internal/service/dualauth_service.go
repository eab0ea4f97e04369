package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
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
	// ErrRequestNotFound indicates an unknown dual-auth request reference.
	ErrRequestNotFound = errors.New("dual-auth request not found")
	// ErrSelfApproval indicates the approver is the requester.
	ErrSelfApproval = errors.New("requester cannot approve their own request")
	// ErrUnauthorizedApprover indicates the approver role is not allowed.
	ErrUnauthorizedApprover = errors.New("approver role not authorized")
	// ErrDuplicateApproval indicates the approver already acted on the request.
	ErrDuplicateApproval = errors.New("approver already recorded on request")
	// ErrRequestExpired indicates the request's window has passed.
	ErrRequestExpired = errors.New("dual-auth request expired")
	// ErrRequestNotPending indicates a terminal request cannot take approvals.
	ErrRequestNotPending = errors.New("dual-auth request is not pending")
	// ErrApprovalThreshold indicates verification found too few approvals.
	ErrApprovalThreshold = errors.New("approval threshold not met")
)

// Roles that may approve unmask requests.
var approverRoles = map[string]struct{}{
	"administrator":  {},
	"principal":      {},
	"counselor":      {},
	"compliance":     {},
	"security_admin": {},
}

// DualAuthService brokers requests to unmask encrypted identity data. The
// contact service's unmask path is the only consumer of Verify; decryption is
// unreachable without it.
type DualAuthService interface {
	RequestAccess(ctx context.Context, requesterID, requesterRole string, req dto.DualAuthRequestRequest) (dto.DualAuthResponse, error)
	Approve(ctx context.Context, requestRef, approverID, approverRole string) (dto.DualAuthResponse, error)
	Deny(ctx context.Context, requestRef, approverID, approverRole string) (dto.DualAuthResponse, error)
	Get(ctx context.Context, requestRef string) (dto.DualAuthResponse, error)
	Verify(ctx context.Context, requestRef string) (models.DualAuthRequest, error)
}

type dualAuthService struct {
	repo      repository.DualAuthRepository
	audit     AuditService
	locker    *requestLocker
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	clock     func() time.Time
}

// NewDualAuthService constructs the dual-authorization gateway. The redis
// client serializes concurrent approvals per request; when nil an in-process
// lock is used instead.
func NewDualAuthService(repo repository.DualAuthRepository, audit AuditService, cache *redis.Client, validate *validator.Validate, logger zerolog.Logger) DualAuthService {
	return &dualAuthService{
		repo:      repo,
		audit:     audit,
		locker:    newRequestLocker(cache),
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "dualauth_service").Logger(),
		tracer:    otel.Tracer("github.com/brightpath-ed/safeguard-api/internal/service/dualauth"),
		clock:     time.Now,
	}
}

func (s *dualAuthService) RequestAccess(ctx context.Context, requesterID, requesterRole string, req dto.DualAuthRequestRequest) (dto.DualAuthResponse, error) {
	ctx, span := s.tracer.Start(ctx, "dualauth.request")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		span.RecordError(err)
		return dto.DualAuthResponse{}, err
	}

	now := s.clock().UTC()
	request := models.DualAuthRequest{
		ReferenceID:   uuid.New().String(),
		RequesterID:   requesterID,
		RequesterRole: requesterRole,
		ContactRef:    req.ContactRef,
		Justification: strings.TrimSpace(s.sanitizer.Sanitize(req.Justification)),
		Urgency:       req.Urgency,
		Status:        models.DualAuthStatusPending,
		RequiredCount: models.RequiredApprovals(req.Urgency),
		ExpiresAt:     now.Add(models.RequestTTL(req.Urgency)),
	}

	// A court order is a legal mandate: the request auto-approves with a
	// synthetic approval so the chain of custody stays visible.
	if req.Urgency == models.UrgencyCourtOrder {
		request.Status = models.DualAuthStatusApproved
		request.DecidedAt = &now
		request.Approvals = []models.DualAuthApproval{{
			ApproverID:   "legal_system",
			ApproverRole: "legal",
			Method:       models.ApprovalMethodLegalMandate,
			ApprovedAt:   now,
		}}
	}

	if err := s.repo.Create(ctx, &request); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		return dto.DualAuthResponse{}, err
	}

	observability.DualAuthDecisions().WithLabelValues(request.Urgency, "requested").Inc()
	span.SetAttributes(attribute.String("dualauth.ref", request.ReferenceID))

	if err := s.auditAction(ctx, request, "unmask_requested", requesterID, requesterRole); err != nil {
		return dto.DualAuthResponse{}, err
	}

	return dto.NewDualAuthResponse(request), nil
}

func (s *dualAuthService) Approve(ctx context.Context, requestRef, approverID, approverRole string) (dto.DualAuthResponse, error) {
	ctx, span := s.tracer.Start(ctx, "dualauth.approve")
	defer span.End()

	release, err := s.locker.acquire(ctx, requestRef)
	if err != nil {
		span.RecordError(err)
		return dto.DualAuthResponse{}, err
	}
	defer release()

	request, err := s.repo.FindByReference(ctx, requestRef)
	if err != nil {
		return dto.DualAuthResponse{}, s.mapNotFound(err)
	}

	if err := s.checkApprovable(&request, approverID, approverRole); err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrRequestExpired) {
			s.expire(ctx, &request)
		}
		return dto.DualAuthResponse{}, err
	}

	now := s.clock().UTC()
	approval := models.DualAuthApproval{
		ApproverID:   approverID,
		ApproverRole: approverRole,
		Method:       "manual",
		ApprovedAt:   now,
	}

	if len(request.Approvals)+1 >= request.RequiredCount {
		request.Status = models.DualAuthStatusApproved
		request.DecidedAt = &now
	}

	if err := s.repo.UpdateWithVersion(ctx, &request, []models.DualAuthApproval{approval}); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			// A concurrent approval won; the caller should re-read state.
			span.SetStatus(codes.Error, "version conflict")
			return dto.DualAuthResponse{}, err
		}
		span.RecordError(err)
		return dto.DualAuthResponse{}, err
	}
	request.Approvals = append(request.Approvals, approval)

	outcome := "approval_recorded"
	if request.Status == models.DualAuthStatusApproved {
		outcome = "approved"
	}
	observability.DualAuthDecisions().WithLabelValues(request.Urgency, outcome).Inc()

	if err := s.auditAction(ctx, request, "unmask_"+outcome, approverID, approverRole); err != nil {
		return dto.DualAuthResponse{}, err
	}

	return dto.NewDualAuthResponse(request), nil
}

func (s *dualAuthService) Deny(ctx context.Context, requestRef, approverID, approverRole string) (dto.DualAuthResponse, error) {
	ctx, span := s.tracer.Start(ctx, "dualauth.deny")
	defer span.End()

	release, err := s.locker.acquire(ctx, requestRef)
	if err != nil {
		return dto.DualAuthResponse{}, err
	}
	defer release()

	request, err := s.repo.FindByReference(ctx, requestRef)
	if err != nil {
		return dto.DualAuthResponse{}, s.mapNotFound(err)
	}

	if err := s.checkApprovable(&request, approverID, approverRole); err != nil {
		if errors.Is(err, ErrRequestExpired) {
			s.expire(ctx, &request)
		}
		return dto.DualAuthResponse{}, err
	}

	now := s.clock().UTC()
	request.Status = models.DualAuthStatusDenied
	request.DecidedAt = &now
	if err := s.repo.UpdateWithVersion(ctx, &request, nil); err != nil {
		span.RecordError(err)
		return dto.DualAuthResponse{}, err
	}

	observability.DualAuthDecisions().WithLabelValues(request.Urgency, "denied").Inc()
	if err := s.auditAction(ctx, request, "unmask_denied", approverID, approverRole); err != nil {
		return dto.DualAuthResponse{}, err
	}

	return dto.NewDualAuthResponse(request), nil
}

func (s *dualAuthService) Get(ctx context.Context, requestRef string) (dto.DualAuthResponse, error) {
	request, err := s.repo.FindByReference(ctx, requestRef)
	if err != nil {
		return dto.DualAuthResponse{}, s.mapNotFound(err)
	}
	return dto.NewDualAuthResponse(request), nil
}

// Verify re-checks everything at use time so a stale approval cannot be
// replayed after expiry. Only an approved, unexpired request with a still
// sufficient approval count unlocks decryption.
func (s *dualAuthService) Verify(ctx context.Context, requestRef string) (models.DualAuthRequest, error) {
	request, err := s.repo.FindByReference(ctx, requestRef)
	if err != nil {
		return models.DualAuthRequest{}, s.mapNotFound(err)
	}

	now := s.clock().UTC()
	if now.After(request.ExpiresAt) {
		s.expire(ctx, &request)
		return models.DualAuthRequest{}, ErrRequestExpired
	}
	if request.Status != models.DualAuthStatusApproved {
		return models.DualAuthRequest{}, ErrRequestNotPending
	}
	if len(request.Approvals) < request.RequiredCount {
		return models.DualAuthRequest{}, ErrApprovalThreshold
	}
	return request, nil
}

func (s *dualAuthService) checkApprovable(request *models.DualAuthRequest, approverID, approverRole string) error {
	if request.Status != models.DualAuthStatusPending {
		return ErrRequestNotPending
	}
	if s.clock().UTC().After(request.ExpiresAt) {
		return ErrRequestExpired
	}
	if approverID == request.RequesterID {
		return ErrSelfApproval
	}
	if _, ok := approverRoles[approverRole]; !ok {
		return ErrUnauthorizedApprover
	}
	for _, existing := range request.Approvals {
		if existing.ApproverID == approverID {
			return ErrDuplicateApproval
		}
	}
	return nil
}

// expire flips a request whose window passed. Best effort: a lost race means
// another actor already advanced the record.
func (s *dualAuthService) expire(ctx context.Context, request *models.DualAuthRequest) {
	now := s.clock().UTC()
	request.Status = models.DualAuthStatusExpired
	request.DecidedAt = &now
	if err := s.repo.UpdateWithVersion(ctx, request, nil); err != nil && !errors.Is(err, repository.ErrVersionConflict) {
		s.logger.Error().Err(err).Str("request_ref", request.ReferenceID).Msg("failed to mark request expired")
		return
	}
	observability.DualAuthDecisions().WithLabelValues(request.Urgency, "expired").Inc()
	if err := s.auditAction(ctx, *request, "unmask_expired", "system", "system"); err != nil {
		s.logger.Error().Err(err).Str("request_ref", request.ReferenceID).Msg("failed to audit request expiry")
	}
}

func (s *dualAuthService) auditAction(ctx context.Context, request models.DualAuthRequest, action, actorID, actorRole string) error {
	return s.audit.Append(ctx, AuditEntry{
		EventType:   models.AuditCounselorAction,
		ActorID:     actorID,
		ActorRole:   actorRole,
		SubjectType: "contact",
		SubjectID:   request.ContactRef,
		Action:      action,
		Detail: map[string]interface{}{
			"schema_version":        "v1",
			"action_kind":           action,
			"request_ref":           request.ReferenceID,
			"urgency":               request.Urgency,
			"justification_present": request.Justification != "",
		},
		Success: true,
	})
}

func (s *dualAuthService) mapNotFound(err error) error {
	if errors.Is(err, repository.ErrRecordNotFound) {
		return ErrRequestNotFound
	}
	return err
}

// requestLocker serializes approval handling per request reference. Redis
// SetNX backs the lock when available so the guarantee holds across
// instances; otherwise a per-key in-process mutex is used.
type requestLocker struct {
	cache *redis.Client
	mu    sync.Mutex
	locks map[string]*refLock
}

// refLock reference-counts waiters so the fallback map only holds entries
// for requests currently contended, not every ref ever touched.
type refLock struct {
	mu   sync.Mutex
	refs int
}

func newRequestLocker(cache *redis.Client) *requestLocker {
	return &requestLocker{cache: cache, locks: make(map[string]*refLock)}
}

func (l *requestLocker) acquire(ctx context.Context, ref string) (func(), error) {
	if l.cache == nil {
		l.mu.Lock()
		lock, ok := l.locks[ref]
		if !ok {
			lock = &refLock{}
			l.locks[ref] = lock
		}
		lock.refs++
		l.mu.Unlock()

		lock.mu.Lock()
		return func() {
			lock.mu.Unlock()
			l.mu.Lock()
			lock.refs--
			if lock.refs == 0 {
				delete(l.locks, ref)
			}
			l.mu.Unlock()
		}, nil
	}

	key := fmt.Sprintf("dualauth:lock:%s", ref)
	deadline := time.Now().Add(2 * time.Second)
	for {
		ok, err := l.cache.SetNX(ctx, key, 1, 5*time.Second).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() { _ = l.cache.Del(context.Background(), key).Err() }, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out acquiring approval lock for %s", ref)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}
