package models

import "time"

// StudentAccount is the minimal account projection the access gate needs:
// birth year for the age computation and the active flag. Profile data lives
// in the surrounding product, not here.
type StudentAccount struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	StudentID       string    `gorm:"size:64;uniqueIndex;not null" json:"student_id"`
	SchoolID        string    `gorm:"size:64;index" json:"school_id"`
	BirthYear       int       `gorm:"not null" json:"birth_year"`
	IsAccountActive bool      `gorm:"not null;default:false" json:"is_account_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AgeAt computes the student's age at the given instant. Only the birth year
// is collected, so the result is a whole-year approximation.
func (s StudentAccount) AgeAt(now time.Time) int {
	if s.BirthYear <= 0 {
		return 0
	}
	return now.Year() - s.BirthYear
}
