package dto

import (
	"time"

	"github.com/brightpath-ed/safeguard-api/internal/models"
)

// AuditQueryRequest filters the audit trail. Only allowlisted roles may query.
type AuditQueryRequest struct {
	EventType string     `query:"event_type" validate:"omitempty,max=48"`
	ActorID   string     `query:"actor_id" validate:"omitempty,max=64"`
	SubjectID string     `query:"subject_id" validate:"omitempty,max=64"`
	Since     *time.Time `query:"since"`
	Until     *time.Time `query:"until"`
	Limit     int        `query:"limit" validate:"omitempty,min=1,max=500"`
}

// AuditEventResponse is the serialized representation of one audit event.
type AuditEventResponse struct {
	ReferenceID string                 `json:"reference_id"`
	EventType   string                 `json:"event_type"`
	ActorID     string                 `json:"actor_id"`
	ActorRole   string                 `json:"actor_role"`
	SubjectType string                 `json:"subject_type,omitempty"`
	SubjectID   string                 `json:"subject_id,omitempty"`
	Action      string                 `json:"action"`
	Detail      map[string]interface{} `json:"detail,omitempty"`
	Success     bool                   `json:"success"`
	Error       string                 `json:"error,omitempty"`
	OccurredAt  time.Time              `json:"occurred_at"`
}

// NewAuditEventResponse converts a model into a DTO.
func NewAuditEventResponse(event models.AuditEvent) AuditEventResponse {
	return AuditEventResponse{
		ReferenceID: event.ReferenceID,
		EventType:   event.EventType,
		ActorID:     event.ActorID,
		ActorRole:   event.ActorRole,
		SubjectType: event.SubjectType,
		SubjectID:   event.SubjectID,
		Action:      event.Action,
		Detail:      event.Detail,
		Success:     event.Success,
		Error:       event.Error,
		OccurredAt:  event.OccurredAt,
	}
}

// NewAuditEventResponseSlice converts a slice of models into DTOs.
func NewAuditEventResponseSlice(events []models.AuditEvent) []AuditEventResponse {
	out := make([]AuditEventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, NewAuditEventResponse(event))
	}
	return out
}
