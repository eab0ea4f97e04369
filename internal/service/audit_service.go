package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/brightpath-ed/safeguard-api/internal/dto"
	"github.com/brightpath-ed/safeguard-api/internal/models"
	"github.com/brightpath-ed/safeguard-api/internal/observability"
	"github.com/brightpath-ed/safeguard-api/internal/repository"
)

var (
	// ErrUnknownEventType indicates an event outside the fixed enumeration.
	ErrUnknownEventType = errors.New("unknown audit event type")
	// ErrDetailSchema indicates a detail payload that fails its event schema.
	ErrDetailSchema = errors.New("audit detail does not match schema")
	// ErrAuditQueryForbidden indicates the caller's role may not read the trail.
	ErrAuditQueryForbidden = errors.New("role not authorized to query audit trail")
	// ErrAuditWriteFailed wraps a persistence failure during append. Treated as
	// a security incident, not a background failure.
	ErrAuditWriteFailed = errors.New("audit write failed")
)

// Roles allowed to read the audit trail.
var auditQueryRoles = map[string]struct{}{
	"administrator":  {},
	"compliance":     {},
	"security_admin": {},
}

// AuditEntry is the input to Append. The timestamp is intentionally absent:
// it is stamped server-side.
type AuditEntry struct {
	EventType   string
	ActorID     string
	ActorRole   string
	SubjectType string
	SubjectID   string
	Action      string
	Detail      map[string]interface{}
	Success     bool
	Error       string
}

// AuditService is the append-only audit trail. No update or delete exists.
type AuditService interface {
	Append(ctx context.Context, entry AuditEntry) error
	Query(ctx context.Context, actorID, actorRole string, req dto.AuditQueryRequest) ([]dto.AuditEventResponse, error)
}

type auditService struct {
	repo    repository.AuditRepository
	schemas map[string]*jsonschema.Schema
	logger  zerolog.Logger
	tracer  trace.Tracer
	clock   func() time.Time
}

// NewAuditService constructs the audit trail service. Schema compilation
// failure is a programming error and panics at startup.
func NewAuditService(repo repository.AuditRepository, logger zerolog.Logger) AuditService {
	schemas, err := compileAuditSchemas()
	if err != nil {
		panic(fmt.Sprintf("audit detail schemas: %v", err))
	}
	return &auditService{
		repo:    repo,
		schemas: schemas,
		logger:  logger.With().Str("component", "audit_service").Logger(),
		tracer:  otel.Tracer("github.com/brightpath-ed/safeguard-api/internal/service/audit"),
		clock:   time.Now,
	}
}

func (s *auditService) Append(ctx context.Context, entry AuditEntry) error {
	ctx, span := s.tracer.Start(ctx, "audit.append")
	defer span.End()
	span.SetAttributes(attribute.String("audit.event_type", entry.EventType))

	schema, ok := s.schemas[entry.EventType]
	if !ok {
		span.SetStatus(codes.Error, "unknown event type")
		return fmt.Errorf("%w: %q", ErrUnknownEventType, entry.EventType)
	}

	detail := entry.Detail
	if detail == nil {
		detail = map[string]interface{}{"schema_version": "v1"}
	}
	if err := validateDetail(schema, detail); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "detail schema violation")
		return fmt.Errorf("%w: %v", ErrDetailSchema, err)
	}

	event := models.AuditEvent{
		ReferenceID: uuid.New().String(),
		EventType:   entry.EventType,
		ActorID:     entry.ActorID,
		ActorRole:   entry.ActorRole,
		SubjectType: entry.SubjectType,
		SubjectID:   entry.SubjectID,
		Action:      entry.Action,
		Detail:      datatypes.JSONMap(detail),
		Success:     entry.Success,
		Error:       entry.Error,
		OccurredAt:  s.clock().UTC(),
	}

	if err := s.repo.Create(ctx, &event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		observability.AuditWriteFailures().Inc()
		s.logger.Error().Err(err).
			Str("event_type", entry.EventType).
			Str("action", entry.Action).
			Msg("audit append failed; treating as security incident")
		return fmt.Errorf("%w: %v", ErrAuditWriteFailed, err)
	}

	observability.AuditEvents().WithLabelValues(entry.EventType).Inc()
	return nil
}

func (s *auditService) Query(ctx context.Context, actorID, actorRole string, req dto.AuditQueryRequest) ([]dto.AuditEventResponse, error) {
	ctx, span := s.tracer.Start(ctx, "audit.query")
	defer span.End()

	if _, ok := auditQueryRoles[actorRole]; !ok {
		span.SetStatus(codes.Error, "forbidden")
		return nil, ErrAuditQueryForbidden
	}

	events, err := s.repo.List(ctx, repository.AuditFilter{
		EventType: req.EventType,
		ActorID:   req.ActorID,
		SubjectID: req.SubjectID,
		Since:     req.Since,
		Until:     req.Until,
		Limit:     req.Limit,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// Reading the trail is itself a sensitive access.
	queryEntry := AuditEntry{
		EventType: models.AuditCrisisDataAccess,
		ActorID:   actorID,
		ActorRole: actorRole,
		Action:    "audit_trail_query",
		Detail: map[string]interface{}{
			"schema_version": "v1",
			"query":          req.EventType,
			"result_count":   len(events),
		},
		Success: true,
	}
	if err := s.Append(ctx, queryEntry); err != nil {
		return nil, err
	}

	return dto.NewAuditEventResponseSlice(events), nil
}

func validateDetail(schema *jsonschema.Schema, detail map[string]interface{}) error {
	// Round-trip so values are in the decoded-JSON shape the validator expects.
	raw, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	return schema.Validate(decoded)
}
