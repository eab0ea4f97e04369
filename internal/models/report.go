package models

import "time"

// Mandatory report types.
const (
	ReportTypeChildAbuse     = "child_abuse"
	ReportTypeExploitation   = "exploitation"
	ReportTypeImminentDanger = "imminent_danger"
	ReportTypeNeglect        = "neglect"
)

// Report submission statuses. Every report must reach closed (or a recorded
// escalated state on its way there) through audited transitions.
const (
	ReportStatusPending      = "pending"
	ReportStatusSubmitted    = "submitted"
	ReportStatusAcknowledged = "acknowledged"
	ReportStatusEscalated    = "escalated"
	ReportStatusClosed       = "closed"
)

// Escalation procedure targets.
const (
	EscalationLocalAuthorities  = "local_authorities"
	EscalationStateCPS          = "state_cps"
	EscalationFBI               = "fbi"
	EscalationEmergencyServices = "emergency_services"
)

// SafetyReport is a mandatory external compliance report. The incident
// description is stored only after PII redaction.
type SafetyReport struct {
	ID             uint                  `gorm:"primaryKey" json:"id"`
	ReportNumber   string                `gorm:"size:64;uniqueIndex;not null" json:"report_number"`
	ReportType     string                `gorm:"size:32;index;not null" json:"report_type"`
	Urgency        string                `gorm:"size:16;not null" json:"urgency"`
	Description    string                `gorm:"type:text;not null" json:"description"`
	SubjectRef     string                `gorm:"size:64;index" json:"subject_ref"`
	ReportedBy     string                `gorm:"size:64;not null" json:"reported_by"`
	Status         string                `gorm:"size:16;index;not null;default:pending" json:"status"`
	SubmittedAt    *time.Time            `json:"submitted_at,omitempty"`
	AcknowledgedAt *time.Time            `json:"acknowledged_at,omitempty"`
	ClosedAt       *time.Time            `json:"closed_at,omitempty"`
	CloseReason    string                `gorm:"size:512" json:"close_reason,omitempty"`
	Escalations    []EscalationProcedure `gorm:"foreignKey:ReportID" json:"escalations"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// EscalationProcedure tracks one notification to an external authority and
// whether a response was received.
type EscalationProcedure struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	ReportID      uint       `gorm:"index;not null" json:"report_id"`
	ProcedureType string     `gorm:"size:32;not null" json:"procedure_type"`
	TriggeredAt   time.Time  `json:"triggered_at"`
	ResponseAt    *time.Time `json:"response_at,omitempty"`
	ResponseNote  string     `gorm:"size:512" json:"response_note,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
