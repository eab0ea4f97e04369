package dto

import (
	"time"

	"github.com/brightpath-ed/safeguard-api/internal/models"
)

// SignalEvaluateRequest submits a crisis signal for classification.
type SignalEvaluateRequest struct {
	Content     string `json:"content" validate:"required,min=1,max=8000"`
	SafetyLevel string `json:"safety_level" validate:"omitempty,oneof=safe concern crisis"`
}

// SignalEvaluation is the classification result for a crisis signal.
type SignalEvaluation struct {
	Required   bool   `json:"required"`
	ReportType string `json:"report_type,omitempty"`
	Urgency    string `json:"urgency_level,omitempty"`
}

// ReportCreateRequest files a mandatory report. The description is redacted
// before storage.
type ReportCreateRequest struct {
	ReportType  string `json:"report_type" validate:"required,oneof=child_abuse exploitation imminent_danger neglect"`
	Urgency     string `json:"urgency" validate:"required,oneof=routine urgent emergency"`
	Description string `json:"description" validate:"required,min=10,max=8000"`
	SubjectRef  string `json:"subject_ref" validate:"omitempty,max=64"`
}

// ReportCloseRequest records why a report is being closed.
type ReportCloseRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=512"`
}

// EscalationResponse describes one escalation procedure.
type EscalationResponse struct {
	ProcedureType string     `json:"procedure_type"`
	TriggeredAt   time.Time  `json:"triggered_at"`
	ResponseAt    *time.Time `json:"response_at,omitempty"`
	ResponseNote  string     `json:"response_note,omitempty"`
}

// ReportResponse is the serialized representation of a safety report.
type ReportResponse struct {
	ReportNumber   string               `json:"report_number"`
	ReportType     string               `json:"report_type"`
	Urgency        string               `json:"urgency"`
	Description    string               `json:"description"`
	SubjectRef     string               `json:"subject_ref,omitempty"`
	Status         string               `json:"status"`
	SubmittedAt    *time.Time           `json:"submitted_at,omitempty"`
	AcknowledgedAt *time.Time           `json:"acknowledged_at,omitempty"`
	ClosedAt       *time.Time           `json:"closed_at,omitempty"`
	Escalations    []EscalationResponse `json:"escalations"`
	CreatedAt      time.Time            `json:"created_at"`
}

// NewReportResponse converts a model into a DTO.
func NewReportResponse(report models.SafetyReport) ReportResponse {
	escalations := make([]EscalationResponse, 0, len(report.Escalations))
	for _, escalation := range report.Escalations {
		escalations = append(escalations, EscalationResponse{
			ProcedureType: escalation.ProcedureType,
			TriggeredAt:   escalation.TriggeredAt,
			ResponseAt:    escalation.ResponseAt,
			ResponseNote:  escalation.ResponseNote,
		})
	}

	return ReportResponse{
		ReportNumber:   report.ReportNumber,
		ReportType:     report.ReportType,
		Urgency:        report.Urgency,
		Description:    report.Description,
		SubjectRef:     report.SubjectRef,
		Status:         report.Status,
		SubmittedAt:    report.SubmittedAt,
		AcknowledgedAt: report.AcknowledgedAt,
		ClosedAt:       report.ClosedAt,
		Escalations:    escalations,
		CreatedAt:      report.CreatedAt,
	}
}
