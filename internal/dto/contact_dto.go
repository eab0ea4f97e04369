package dto

import (
	"time"

	"github.com/brightpath-ed/safeguard-api/internal/models"
)

// ContactRegisterRequest registers a new emergency contact. The identity
// fields are encrypted before anything is persisted.
type ContactRegisterRequest struct {
	StudentID  string `json:"student_id" validate:"required,max=64"`
	ConsentRef string `json:"consent_ref" validate:"omitempty,max=64"`
	Name       string `json:"name" validate:"required,min=2,max=255"`
	Phone      string `json:"phone" validate:"required,min=7,max=32"`
	Relation   string `json:"relation" validate:"required,min=2,max=64"`
}

// ContactResponse describes an emergency contact without identity data.
type ContactResponse struct {
	ReferenceID    string     `json:"reference_id"`
	StudentID      string     `json:"student_id"`
	ConsentRef     string     `json:"consent_ref,omitempty"`
	AccessCount    int64      `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// UnmaskedContactResponse carries decrypted identity data. It exists only in
// responses to verified dual-authorization requests and is never persisted.
type UnmaskedContactResponse struct {
	ReferenceID string `json:"reference_id"`
	StudentID   string `json:"student_id"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Relation    string `json:"relation"`
	RequestRef  string `json:"request_ref"`
}

// NewContactResponse converts a model into a DTO.
func NewContactResponse(contact models.EncryptedEmergencyContact) ContactResponse {
	return ContactResponse{
		ReferenceID:    contact.ReferenceID,
		StudentID:      contact.StudentID,
		ConsentRef:     contact.ConsentRef,
		AccessCount:    contact.AccessCount,
		LastAccessedAt: contact.LastAccessedAt,
		CreatedAt:      contact.CreatedAt,
	}
}
