package models

import (
	"time"

	"gorm.io/datatypes"
)

// Closed enumeration of audit event types. Append rejects anything else.
const (
	AuditCrisisDataAccess       = "crisis_data_access"
	AuditEmergencyContactAccess = "emergency_contact_access"
	AuditIdentityUnmask         = "identity_unmask"
	AuditCounselorAction        = "counselor_action"
	AuditMandatoryReport        = "mandatory_report"
	AuditNotification           = "notification"
	AuditConsentLifecycle       = "consent_lifecycle"
)

// AuditEventTypes lists every valid event type.
var AuditEventTypes = []string{
	AuditCrisisDataAccess,
	AuditEmergencyContactAccess,
	AuditIdentityUnmask,
	AuditCounselorAction,
	AuditMandatoryReport,
	AuditNotification,
	AuditConsentLifecycle,
}

// AuditEvent is an immutable, append-only record of one sensitive operation.
// Timestamps are stamped server-side at append; the row is never updated or
// deleted after write.
type AuditEvent struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	ReferenceID string            `gorm:"size:64;uniqueIndex;not null" json:"reference_id"`
	EventType   string            `gorm:"size:48;index;not null" json:"event_type"`
	ActorID     string            `gorm:"size:64;index;not null" json:"actor_id"`
	ActorRole   string            `gorm:"size:32;not null" json:"actor_role"`
	SubjectType string            `gorm:"size:48;index" json:"subject_type"`
	SubjectID   string            `gorm:"size:64;index" json:"subject_id"`
	Action      string            `gorm:"size:64;not null" json:"action"`
	Detail      datatypes.JSONMap `gorm:"type:json" json:"detail"`
	Success     bool              `gorm:"not null;default:true" json:"success"`
	Error       string            `gorm:"size:1024" json:"error,omitempty"`
	OccurredAt  time.Time         `gorm:"index;not null" json:"occurred_at"`
	CreatedAt   time.Time         `json:"created_at"`
}
