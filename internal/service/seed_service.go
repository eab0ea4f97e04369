package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/brightpath-ed/safeguard-api/internal/models"
	"github.com/brightpath-ed/safeguard-api/internal/repository"
)

var (
	// ErrSeedDisabled indicates the seeding tools are disabled by configuration.
	ErrSeedDisabled = errors.New("seeding is disabled")
	// ErrSeedUnauthorized indicates the provided token is invalid.
	ErrSeedUnauthorized = errors.New("invalid seed token")
)

// SeedService loads student roster data in bulk. Intended for environment
// bootstrap and school-year imports, never exposed without the token.
type SeedService interface {
	SeedStudents(ctx context.Context, token string, accounts []models.StudentAccount) (int64, error)
}

type seedService struct {
	students repository.StudentRepository
	enabled  bool
	token    string
	logger   zerolog.Logger
}

// NewSeedService constructs a roster seeding service.
func NewSeedService(students repository.StudentRepository, enabled bool, token string, logger zerolog.Logger) SeedService {
	return &seedService{
		students: students,
		enabled:  enabled,
		token:    token,
		logger:   logger.With().Str("component", "seed_service").Logger(),
	}
}

func (s *seedService) SeedStudents(ctx context.Context, token string, accounts []models.StudentAccount) (int64, error) {
	if !s.enabled {
		return 0, ErrSeedDisabled
	}
	if !s.validateToken(token) {
		return 0, ErrSeedUnauthorized
	}

	var affected int64
	for i := range accounts {
		account := normalizeStudent(accounts[i])
		if account.StudentID == "" || account.BirthYear <= 0 {
			continue
		}
		if err := s.students.Upsert(ctx, &account); err != nil {
			return affected, err
		}
		affected++
	}
	s.logger.Info().Int64("affected", affected).Msg("student roster seeded")
	return affected, nil
}

func (s *seedService) validateToken(token string) bool {
	expected := strings.TrimSpace(s.token)
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(token))) == 1
}

func normalizeStudent(account models.StudentAccount) models.StudentAccount {
	account.StudentID = strings.TrimSpace(account.StudentID)
	account.SchoolID = strings.TrimSpace(account.SchoolID)
	return account
}
