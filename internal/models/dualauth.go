package models

import "time"

// Dual-authorization request statuses.
const (
	DualAuthStatusPending  = "pending"
	DualAuthStatusApproved = "approved"
	DualAuthStatusDenied   = "denied"
	DualAuthStatusExpired  = "expired"
)

// Urgency levels for unmask requests. court_order auto-approves with a
// synthetic legal-mandate approval.
const (
	UrgencyRoutine    = "routine"
	UrgencyUrgent     = "urgent"
	UrgencyEmergency  = "emergency"
	UrgencyCourtOrder = "court_order"
)

// ApprovalMethodLegalMandate marks the synthetic approval attached to
// court-order requests.
const ApprovalMethodLegalMandate = "legal_mandate"

// DualAuthRequest brokers access to one encrypted emergency contact. The
// Version column backs optimistic locking so concurrent approvals cannot race
// past the required count.
type DualAuthRequest struct {
	ID            uint               `gorm:"primaryKey" json:"id"`
	ReferenceID   string             `gorm:"size:64;uniqueIndex;not null" json:"reference_id"`
	RequesterID   string             `gorm:"size:64;index;not null" json:"requester_id"`
	RequesterRole string             `gorm:"size:32;not null" json:"requester_role"`
	ContactRef    string             `gorm:"size:64;index;not null" json:"contact_ref"`
	Justification string             `gorm:"size:1024;not null" json:"justification"`
	Urgency       string             `gorm:"size:16;not null" json:"urgency"`
	Status        string             `gorm:"size:16;index;not null;default:pending" json:"status"`
	RequiredCount int                `gorm:"not null" json:"required_count"`
	ExpiresAt     time.Time          `json:"expires_at"`
	DecidedAt     *time.Time         `json:"decided_at,omitempty"`
	Version       int64              `gorm:"not null;default:0" json:"-"`
	Approvals     []DualAuthApproval `gorm:"foreignKey:RequestID" json:"approvals"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// DualAuthApproval records a single approver's decision on a request.
type DualAuthApproval struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	RequestID    uint      `gorm:"index;not null" json:"request_id"`
	ApproverID   string    `gorm:"size:64;not null" json:"approver_id"`
	ApproverRole string    `gorm:"size:32;not null" json:"approver_role"`
	Method       string    `gorm:"size:32;not null;default:manual" json:"method"`
	ApprovedAt   time.Time `json:"approved_at"`
}

// RequiredApprovals returns the urgency-dependent approval threshold.
func RequiredApprovals(urgency string) int {
	switch urgency {
	case UrgencyEmergency, UrgencyCourtOrder:
		return 1
	default:
		return 2
	}
}

// RequestTTL returns how long a request with the given urgency stays valid.
func RequestTTL(urgency string) time.Duration {
	if urgency == UrgencyEmergency {
		return time.Hour
	}
	return 24 * time.Hour
}
