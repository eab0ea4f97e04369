package dto

import (
	"time"

	"github.com/brightpath-ed/safeguard-api/internal/models"
)

// ConsentRequestRequest is the payload to start a guardian consent flow.
type ConsentRequestRequest struct {
	StudentID     string `json:"student_id" validate:"required,max=64"`
	SchoolID      string `json:"school_id" validate:"omitempty,max=64"`
	GuardianName  string `json:"guardian_name" validate:"required,min=2,max=255"`
	GuardianEmail string `json:"guardian_email" validate:"required,email,max=255"`
}

// ConsentDecisionRequest records a guardian's decision via the emailed link.
type ConsentDecisionRequest struct {
	VerificationCode string `json:"verification_code" validate:"required,min=16,max=128"`
	Decision         string `json:"decision" validate:"required,oneof=approved denied"`
}

// ConsentRevokeRequest withdraws a previously approved consent.
type ConsentRevokeRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=512"`
}

// ConsentResponse is the serialized representation of a consent record. The
// verification code is deliberately absent.
type ConsentResponse struct {
	ReferenceID    string     `json:"reference_id"`
	StudentID      string     `json:"student_id"`
	SchoolID       string     `json:"school_id,omitempty"`
	GuardianName   string     `json:"guardian_name"`
	GuardianEmail  string     `json:"guardian_email"`
	ConsentVersion string     `json:"consent_version"`
	Status         string     `json:"status"`
	IsImmutable    bool       `json:"is_immutable"`
	IsRenewal      bool       `json:"is_renewal"`
	ValidFrom      *time.Time `json:"valid_from,omitempty"`
	ValidUntil     *time.Time `json:"valid_until,omitempty"`
	RequestedAt    time.Time  `json:"requested_at"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// NewConsentResponse converts a model into a DTO.
func NewConsentResponse(record models.ConsentRecord) ConsentResponse {
	return ConsentResponse{
		ReferenceID:    record.ReferenceID,
		StudentID:      record.StudentID,
		SchoolID:       record.SchoolID,
		GuardianName:   record.GuardianName,
		GuardianEmail:  record.GuardianEmail,
		ConsentVersion: record.ConsentVersion,
		Status:         record.Status,
		IsImmutable:    record.IsImmutable,
		IsRenewal:      record.IsRenewal,
		ValidFrom:      record.ValidFrom,
		ValidUntil:     record.ValidUntil,
		RequestedAt:    record.RequestedAt,
		DecidedAt:      record.DecidedAt,
		RevokedAt:      record.RevokedAt,
	}
}
