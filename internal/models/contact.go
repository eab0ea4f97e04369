package models

import "time"

// EncryptedEmergencyContact stores one emergency contact with each identity
// field sealed in its own envelope. Plaintext is never persisted; each
// envelope carries its own IV and auth tag. The record is immutable apart
// from the access counters; rotation creates a new record.
type EncryptedEmergencyContact struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	ReferenceID      string     `gorm:"size:64;uniqueIndex;not null" json:"reference_id"`
	StudentID        string     `gorm:"size:64;index;not null" json:"student_id"`
	ConsentRef       string     `gorm:"size:64;index" json:"consent_ref"`
	NameEnvelope     string     `gorm:"type:text;not null" json:"-"`
	PhoneEnvelope    string     `gorm:"type:text;not null" json:"-"`
	RelationEnvelope string     `gorm:"type:text;not null" json:"-"`
	KeyID            string     `gorm:"size:64;index;not null" json:"key_id"`
	AccessCount      int64      `gorm:"not null;default:0" json:"access_count"`
	LastAccessedAt   *time.Time `json:"last_accessed_at,omitempty"`
	RotatedFromRef   string     `gorm:"size:64" json:"rotated_from_ref,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// WrappedKey holds a per-contact data key encrypted under the master-derived
// key-encryption key. Raw key material never reaches storage.
type WrappedKey struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	KeyID     string    `gorm:"size:64;uniqueIndex;not null" json:"key_id"`
	Blob      string    `gorm:"type:text;not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
