package dto

import (
	"time"

	"github.com/brightpath-ed/safeguard-api/internal/models"
)

// DualAuthRequestRequest asks for permission to unmask one emergency contact.
type DualAuthRequestRequest struct {
	ContactRef    string `json:"contact_ref" validate:"required,max=64"`
	Justification string `json:"justification" validate:"required,min=10,max=1024"`
	Urgency       string `json:"urgency" validate:"required,oneof=routine urgent emergency court_order"`
}

// DualAuthApprovalResponse is one recorded approval.
type DualAuthApprovalResponse struct {
	ApproverID   string    `json:"approver_id"`
	ApproverRole string    `json:"approver_role"`
	Method       string    `json:"method"`
	ApprovedAt   time.Time `json:"approved_at"`
}

// DualAuthResponse is the serialized representation of an unmask request.
type DualAuthResponse struct {
	ReferenceID   string                     `json:"reference_id"`
	RequesterID   string                     `json:"requester_id"`
	RequesterRole string                     `json:"requester_role"`
	ContactRef    string                     `json:"contact_ref"`
	Justification string                     `json:"justification"`
	Urgency       string                     `json:"urgency"`
	Status        string                     `json:"status"`
	RequiredCount int                        `json:"required_count"`
	ExpiresAt     time.Time                  `json:"expires_at"`
	DecidedAt     *time.Time                 `json:"decided_at,omitempty"`
	Approvals     []DualAuthApprovalResponse `json:"approvals"`
	CreatedAt     time.Time                  `json:"created_at"`
}

// NewDualAuthResponse converts a model into a DTO.
func NewDualAuthResponse(request models.DualAuthRequest) DualAuthResponse {
	approvals := make([]DualAuthApprovalResponse, 0, len(request.Approvals))
	for _, approval := range request.Approvals {
		approvals = append(approvals, DualAuthApprovalResponse{
			ApproverID:   approval.ApproverID,
			ApproverRole: approval.ApproverRole,
			Method:       approval.Method,
			ApprovedAt:   approval.ApprovedAt,
		})
	}

	return DualAuthResponse{
		ReferenceID:   request.ReferenceID,
		RequesterID:   request.RequesterID,
		RequesterRole: request.RequesterRole,
		ContactRef:    request.ContactRef,
		Justification: request.Justification,
		Urgency:       request.Urgency,
		Status:        request.Status,
		RequiredCount: request.RequiredCount,
		ExpiresAt:     request.ExpiresAt,
		DecidedAt:     request.DecidedAt,
		Approvals:     approvals,
		CreatedAt:     request.CreatedAt,
	}
}
