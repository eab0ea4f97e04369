package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/brightpath-ed/safeguard-api/internal/dto"
	"github.com/brightpath-ed/safeguard-api/internal/models"
	"github.com/brightpath-ed/safeguard-api/internal/observability"
	"github.com/brightpath-ed/safeguard-api/internal/repository"
	"github.com/brightpath-ed/safeguard-api/pkg/envelope"
)

// ErrContactNotFound indicates an unknown emergency contact reference.
var ErrContactNotFound = errors.New("emergency contact not found")

// ContactService manages encrypted emergency contacts. Registration seals
// each identity field in its own envelope; Unmask is the only decrypt path
// and is reachable only through a verified dual-authorization request.
type ContactService interface {
	Register(ctx context.Context, req dto.ContactRegisterRequest) (dto.ContactResponse, error)
	ListByStudent(ctx context.Context, studentID string) ([]dto.ContactResponse, error)
	Unmask(ctx context.Context, requestRef, actorID, actorRole string) (dto.UnmaskedContactResponse, error)
	Rotate(ctx context.Context, requestRef, actorID, actorRole string) (dto.ContactResponse, error)
}

type contactService struct {
	repo      repository.ContactRepository
	keys      repository.KeyRepository
	dualAuth  DualAuthService
	audit     AuditService
	protector *envelope.Protector
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	clock     func() time.Time
}

// NewContactService constructs the emergency contact service.
func NewContactService(repo repository.ContactRepository, keys repository.KeyRepository, dualAuth DualAuthService, audit AuditService, protector *envelope.Protector, validate *validator.Validate, logger zerolog.Logger) ContactService {
	return &contactService{
		repo:      repo,
		keys:      keys,
		dualAuth:  dualAuth,
		audit:     audit,
		protector: protector,
		validator: validate,
		logger:    logger.With().Str("component", "contact_service").Logger(),
		tracer:    otel.Tracer("github.com/brightpath-ed/safeguard-api/internal/service/contacts"),
		clock:     time.Now,
	}
}

func (s *contactService) Register(ctx context.Context, req dto.ContactRegisterRequest) (dto.ContactResponse, error) {
	ctx, span := s.tracer.Start(ctx, "contacts.register")
	defer span.End()

	if err := s.validator.Struct(req); err != nil {
		span.RecordError(err)
		return dto.ContactResponse{}, err
	}

	contact, err := s.encryptContact(ctx, req.StudentID, req.ConsentRef, req.Name, req.Phone, req.Relation, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encryption failed")
		return dto.ContactResponse{}, err
	}

	if err := s.repo.Create(ctx, contact); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		return dto.ContactResponse{}, err
	}

	span.SetAttributes(attribute.String("contact.ref", contact.ReferenceID))
	if err := s.auditAccess(ctx, *contact, "contact_registered", "system", "system", []string{"name", "phone", "relation"}); err != nil {
		return dto.ContactResponse{}, err
	}

	return dto.NewContactResponse(*contact), nil
}

func (s *contactService) ListByStudent(ctx context.Context, studentID string) ([]dto.ContactResponse, error) {
	contacts, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	out := make([]dto.ContactResponse, 0, len(contacts))
	for _, contact := range contacts {
		out = append(out, dto.NewContactResponse(contact))
	}
	return out, nil
}

// Unmask decrypts a contact's identity fields for the holder of a verified
// dual-authorization request. Each unmask bumps the access counters and
// records the full approver chain in the audit trail.
func (s *contactService) Unmask(ctx context.Context, requestRef, actorID, actorRole string) (dto.UnmaskedContactResponse, error) {
	ctx, span := s.tracer.Start(ctx, "contacts.unmask")
	defer span.End()

	request, err := s.dualAuth.Verify(ctx, requestRef)
	if err != nil {
		span.SetStatus(codes.Error, "authorization failed")
		return dto.UnmaskedContactResponse{}, err
	}

	contact, err := s.repo.FindByReference(ctx, request.ContactRef)
	if err != nil {
		return dto.UnmaskedContactResponse{}, s.mapNotFound(err)
	}

	key, err := s.unwrapContactKey(ctx, contact.KeyID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "key unwrap failed")
		return dto.UnmaskedContactResponse{}, err
	}

	name, err := s.decryptField(contact.NameEnvelope, key, "name")
	if err != nil {
		return dto.UnmaskedContactResponse{}, err
	}
	phone, err := s.decryptField(contact.PhoneEnvelope, key, "phone")
	if err != nil {
		return dto.UnmaskedContactResponse{}, err
	}
	relation, err := s.decryptField(contact.RelationEnvelope, key, "relation")
	if err != nil {
		return dto.UnmaskedContactResponse{}, err
	}

	now := s.clock().UTC()
	if err := s.repo.IncrementAccess(ctx, contact.ReferenceID, now); err != nil {
		span.RecordError(err)
		return dto.UnmaskedContactResponse{}, err
	}

	approverIDs := make([]string, 0, len(request.Approvals))
	for _, approval := range request.Approvals {
		approverIDs = append(approverIDs, approval.ApproverID)
	}
	if err := s.audit.Append(ctx, AuditEntry{
		EventType:   models.AuditIdentityUnmask,
		ActorID:     actorID,
		ActorRole:   actorRole,
		SubjectType: "contact",
		SubjectID:   contact.ReferenceID,
		Action:      "identity_unmasked",
		Detail: map[string]interface{}{
			"schema_version": "v1",
			"request_ref":    request.ReferenceID,
			"urgency":        request.Urgency,
			"approver_ids":   approverIDs,
		},
		Success: true,
	}); err != nil {
		return dto.UnmaskedContactResponse{}, err
	}

	return dto.UnmaskedContactResponse{
		ReferenceID: contact.ReferenceID,
		StudentID:   contact.StudentID,
		Name:        name,
		Phone:       phone,
		Relation:    relation,
		RequestRef:  request.ReferenceID,
	}, nil
}

// Rotate re-encrypts a contact under a fresh data key as a new record. It
// requires a verified unmask first, so it flows through the same controls.
func (s *contactService) Rotate(ctx context.Context, requestRef, actorID, actorRole string) (dto.ContactResponse, error) {
	ctx, span := s.tracer.Start(ctx, "contacts.rotate")
	defer span.End()

	unmasked, err := s.Unmask(ctx, requestRef, actorID, actorRole)
	if err != nil {
		return dto.ContactResponse{}, err
	}

	previous, err := s.repo.FindByReference(ctx, unmasked.ReferenceID)
	if err != nil {
		return dto.ContactResponse{}, s.mapNotFound(err)
	}

	rotated, err := s.encryptContact(ctx, previous.StudentID, previous.ConsentRef, unmasked.Name, unmasked.Phone, unmasked.Relation, previous.ReferenceID)
	if err != nil {
		span.RecordError(err)
		return dto.ContactResponse{}, err
	}
	if err := s.repo.Create(ctx, rotated); err != nil {
		span.RecordError(err)
		return dto.ContactResponse{}, err
	}

	if err := s.auditAccess(ctx, *rotated, "contact_rotated", actorID, actorRole, []string{"name", "phone", "relation"}); err != nil {
		return dto.ContactResponse{}, err
	}
	return dto.NewContactResponse(*rotated), nil
}

func (s *contactService) encryptContact(ctx context.Context, studentID, consentRef, name, phone, relation, rotatedFrom string) (*models.EncryptedEmergencyContact, error) {
	dataKey, err := s.protector.GenerateDataKey()
	if err != nil {
		return nil, err
	}

	nameEnv, err := s.encryptField(name, dataKey, "name")
	if err != nil {
		return nil, err
	}
	phoneEnv, err := s.encryptField(phone, dataKey, "phone")
	if err != nil {
		return nil, err
	}
	relationEnv, err := s.encryptField(relation, dataKey, "relation")
	if err != nil {
		return nil, err
	}

	wrapped, err := s.protector.WrapKey(dataKey)
	if err != nil {
		observability.CryptoFailures().WithLabelValues("wrap_key").Inc()
		return nil, err
	}

	keyID := uuid.New().String()
	if err := s.keys.Store(ctx, &models.WrappedKey{KeyID: keyID, Blob: wrapped}); err != nil {
		return nil, fmt.Errorf("failed to store wrapped key: %w", err)
	}

	return &models.EncryptedEmergencyContact{
		ReferenceID:      uuid.New().String(),
		StudentID:        studentID,
		ConsentRef:       consentRef,
		NameEnvelope:     nameEnv,
		PhoneEnvelope:    phoneEnv,
		RelationEnvelope: relationEnv,
		KeyID:            keyID,
		RotatedFromRef:   rotatedFrom,
	}, nil
}

func (s *contactService) encryptField(value string, key []byte, field string) (string, error) {
	env, err := envelope.Encrypt([]byte(strings.TrimSpace(value)), key)
	if err != nil {
		observability.CryptoFailures().WithLabelValues("encrypt_" + field).Inc()
		return "", err
	}
	return envelope.Marshal(env)
}

func (s *contactService) decryptField(stored string, key []byte, field string) (string, error) {
	env, err := envelope.Unmarshal(stored)
	if err != nil {
		return "", err
	}
	plaintext, err := envelope.Decrypt(env, key)
	if err != nil {
		// A failed tag check is terminal: possible tampering, never retried.
		observability.CryptoFailures().WithLabelValues("decrypt_" + field).Inc()
		s.logger.Error().Str("field", field).Msg("field decryption integrity failure")
		return "", err
	}
	return string(plaintext), nil
}

func (s *contactService) unwrapContactKey(ctx context.Context, keyID string) ([]byte, error) {
	wrapped, err := s.keys.Retrieve(ctx, keyID)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, fmt.Errorf("wrapped key %s missing: %w", keyID, err)
		}
		return nil, err
	}
	key, err := s.protector.UnwrapKey(wrapped.Blob)
	if err != nil {
		observability.CryptoFailures().WithLabelValues("unwrap_key").Inc()
		return nil, err
	}
	return key, nil
}

func (s *contactService) auditAccess(ctx context.Context, contact models.EncryptedEmergencyContact, action, actorID, actorRole string, fields []string) error {
	fieldValues := make([]interface{}, 0, len(fields))
	for _, field := range fields {
		fieldValues = append(fieldValues, field)
	}
	return s.audit.Append(ctx, AuditEntry{
		EventType:   models.AuditEmergencyContactAccess,
		ActorID:     actorID,
		ActorRole:   actorRole,
		SubjectType: "contact",
		SubjectID:   contact.ReferenceID,
		Action:      action,
		Detail: map[string]interface{}{
			"schema_version": "v1",
			"key_id":         contact.KeyID,
			"fields":         fieldValues,
		},
		Success: true,
	})
}

func (s *contactService) mapNotFound(err error) error {
	if errors.Is(err, repository.ErrRecordNotFound) {
		return ErrContactNotFound
	}
	return err
}
