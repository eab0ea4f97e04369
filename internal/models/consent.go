package models

import "time"

// Consent lifecycle statuses.
const (
	ConsentStatusPending  = "pending"
	ConsentStatusApproved = "approved"
	ConsentStatusDenied   = "denied"
	ConsentStatusRevoked  = "revoked"
	ConsentStatusExpired  = "expired"
)

// ConsentRecord tracks a guardian's consent decision for one minor. Once the
// record reaches a terminal decision it becomes immutable; renewals create a
// fresh record that supersedes this one. Records are never deleted.
type ConsentRecord struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	ReferenceID      string     `gorm:"size:64;uniqueIndex;not null" json:"reference_id"`
	StudentID        string     `gorm:"size:64;index;not null" json:"student_id"`
	SchoolID         string     `gorm:"size:64;index" json:"school_id"`
	GuardianName     string     `gorm:"size:255;not null" json:"guardian_name"`
	GuardianEmail    string     `gorm:"size:255;not null" json:"guardian_email"`
	ConsentVersion   string     `gorm:"size:32;not null" json:"consent_version"`
	Status           string     `gorm:"size:16;index;not null;default:pending" json:"status"`
	VerificationCode string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	IsImmutable      bool       `gorm:"not null;default:false" json:"is_immutable"`
	IsRenewal        bool       `gorm:"not null;default:false" json:"is_renewal"`
	SupersedesRef    string     `gorm:"size:64" json:"supersedes_ref,omitempty"`
	ValidFrom        *time.Time `json:"valid_from,omitempty"`
	ValidUntil       *time.Time `json:"valid_until,omitempty"`
	RequestedAt      time.Time  `json:"requested_at"`
	RequestExpiresAt time.Time  `json:"request_expires_at"`
	LinkAccessedAt   *time.Time `json:"link_accessed_at,omitempty"`
	DecidedAt        *time.Time `json:"decided_at,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	ExpiredAt        *time.Time `json:"expired_at,omitempty"`
	RevokeReason     string     `gorm:"size:512" json:"revoke_reason,omitempty"`
	RevokedBy        string     `gorm:"size:64" json:"revoked_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the record has reached a decision that locks it.
func (c ConsentRecord) IsTerminal() bool {
	switch c.Status {
	case ConsentStatusApproved, ConsentStatusDenied, ConsentStatusRevoked:
		return true
	}
	return false
}

// ActiveAt reports whether an approved consent covers the given instant.
func (c ConsentRecord) ActiveAt(now time.Time) bool {
	if c.Status != ConsentStatusApproved {
		return false
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return false
	}
	return true
}
