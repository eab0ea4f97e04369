package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/brightpath-ed/safeguard-api/internal/dto"
	"github.com/brightpath-ed/safeguard-api/internal/models"
)

type stubStudentRepo struct {
	account models.StudentAccount
	err     error
	lookups int
}

func (r *stubStudentRepo) FindByStudentID(_ context.Context, _ string) (models.StudentAccount, error) {
	r.lookups++
	if r.err != nil {
		return models.StudentAccount{}, r.err
	}
	return r.account, nil
}

func (r *stubStudentRepo) Upsert(_ context.Context, _ *models.StudentAccount) error {
	return nil
}

// stubConsentStatus satisfies ConsentService for gate tests; only StatusFor
// is exercised.
type stubConsentStatus struct {
	record models.ConsentRecord
	err    error
}

func (s *stubConsentStatus) RequestConsent(_ context.Context, _ dto.ConsentRequestRequest) (dto.ConsentResponse, error) {
	return dto.ConsentResponse{}, nil
}

func (s *stubConsentStatus) MarkLinkAccessed(_ context.Context, _ string) (dto.ConsentResponse, error) {
	return dto.ConsentResponse{}, nil
}

func (s *stubConsentStatus) RecordDecision(_ context.Context, _ dto.ConsentDecisionRequest) (dto.ConsentResponse, error) {
	return dto.ConsentResponse{}, nil
}

func (s *stubConsentStatus) Revoke(_ context.Context, _, _, _, _ string) (dto.ConsentResponse, error) {
	return dto.ConsentResponse{}, nil
}

func (s *stubConsentStatus) Renew(_ context.Context, _ string) (dto.ConsentResponse, error) {
	return dto.ConsentResponse{}, nil
}

func (s *stubConsentStatus) StatusFor(_ context.Context, _ string) (models.ConsentRecord, error) {
	if s.err != nil {
		return models.ConsentRecord{}, s.err
	}
	return s.record, nil
}

func (s *stubConsentStatus) SweepExpirations(_ context.Context) (int, error) {
	return 0, nil
}

func (s *stubConsentStatus) Start(_ context.Context) {}

var gateNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func newGateFixture(t *testing.T, students *stubStudentRepo, consent *stubConsentStatus) (*accessGateService, *recordingAudit) {
	t.Helper()
	audit := &recordingAudit{}
	svc := NewAccessGateService(students, consent, audit, zerolog.Nop()).(*accessGateService)
	svc.clock = func() time.Time { return gateNow }
	return svc, audit
}

func activeConsent() models.ConsentRecord {
	validFrom := gateNow.Add(-30 * 24 * time.Hour)
	validUntil := gateNow.Add(300 * 24 * time.Hour)
	return models.ConsentRecord{
		StudentID:  "student-1",
		Status:     models.ConsentStatusApproved,
		ValidFrom:  &validFrom,
		ValidUntil: &validUntil,
	}
}

func TestGateAllowsNonMinorWithoutLookups(t *testing.T) {
	students := &stubStudentRepo{err: errors.New("should not be consulted")}
	svc, audit := newGateFixture(t, students, &stubConsentStatus{})

	decision, err := svc.Check(context.Background(), "counselor-1", "counselor", "/api/v1/reports")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Zero(t, students.lookups)
	require.Empty(t, audit.entries)
}

func TestGateAllowsMinorAtConsentAge(t *testing.T) {
	students := &stubStudentRepo{account: models.StudentAccount{
		StudentID: "student-1",
		BirthYear: gateNow.Year() - 13,
	}}
	consent := &stubConsentStatus{err: ErrConsentNotFound}
	svc, _ := newGateFixture(t, students, consent)

	decision, err := svc.Check(context.Background(), "student-1", "minor", "/api/v1/reports")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestGateBlocksYoungMinorWithoutConsent(t *testing.T) {
	students := &stubStudentRepo{account: models.StudentAccount{
		StudentID:       "student-1",
		BirthYear:       gateNow.Year() - 10,
		IsAccountActive: true,
	}}
	consent := &stubConsentStatus{err: ErrConsentNotFound}
	svc, audit := newGateFixture(t, students, consent)

	decision, err := svc.Check(context.Background(), "student-1", "minor", "/api/v1/contacts")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, "none", decision.ConsentStatus)
	require.Equal(t, "access requires guardian consent; please ask your guardian or school to complete the consent process", decision.Message)

	require.Len(t, audit.entries, 1)
	entry := audit.entries[0]
	require.Equal(t, models.AuditCrisisDataAccess, entry.EventType)
	require.Equal(t, "access_blocked", entry.Action)
	require.Equal(t, "route", entry.SubjectType)
	require.Equal(t, "/api/v1/contacts", entry.SubjectID)
	require.Equal(t, true, entry.Detail["blocked"])
	require.Equal(t, "none", entry.Detail["consent_status"])
}

func TestGatePendingConsentGetsSpecificMessage(t *testing.T) {
	students := &stubStudentRepo{account: models.StudentAccount{
		StudentID:       "student-1",
		BirthYear:       gateNow.Year() - 9,
		IsAccountActive: true,
	}}
	consent := &stubConsentStatus{record: models.ConsentRecord{
		StudentID: "student-1",
		Status:    models.ConsentStatusPending,
	}}
	svc, _ := newGateFixture(t, students, consent)

	decision, err := svc.Check(context.Background(), "student-1", "minor", "/api/v1/reports")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, models.ConsentStatusPending, decision.ConsentStatus)
	require.Equal(t, "a consent request was already sent to your guardian; access unlocks once they approve it", decision.Message)
}

func TestGateAllowsActiveConsent(t *testing.T) {
	students := &stubStudentRepo{account: models.StudentAccount{
		StudentID:       "student-1",
		BirthYear:       gateNow.Year() - 10,
		IsAccountActive: true,
	}}
	consent := &stubConsentStatus{record: activeConsent()}
	svc, audit := newGateFixture(t, students, consent)

	decision, err := svc.Check(context.Background(), "student-1", "minor", "/api/v1/reports")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, models.ConsentStatusApproved, decision.ConsentStatus)
	require.Empty(t, audit.entries)
}

func TestGateBlocksRevokedConsent(t *testing.T) {
	students := &stubStudentRepo{account: models.StudentAccount{
		StudentID:       "student-1",
		BirthYear:       gateNow.Year() - 10,
		IsAccountActive: true,
	}}
	consent := &stubConsentStatus{record: models.ConsentRecord{
		StudentID: "student-1",
		Status:    models.ConsentStatusRevoked,
	}}
	svc, _ := newGateFixture(t, students, consent)

	decision, err := svc.Check(context.Background(), "student-1", "minor", "/api/v1/reports")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, models.ConsentStatusRevoked, decision.ConsentStatus)
}

func TestGateBlocksInactiveAccountDespiteConsent(t *testing.T) {
	students := &stubStudentRepo{account: models.StudentAccount{
		StudentID:       "student-1",
		BirthYear:       gateNow.Year() - 10,
		IsAccountActive: false,
	}}
	consent := &stubConsentStatus{record: activeConsent()}
	svc, _ := newGateFixture(t, students, consent)

	decision, err := svc.Check(context.Background(), "student-1", "minor", "/api/v1/reports")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, models.ConsentStatusApproved, decision.ConsentStatus)
	require.Equal(t, "guardian consent is on file but your account is not currently active; please contact your school", decision.Message)
}

func TestGateBlocksLapsedConsentWindow(t *testing.T) {
	students := &stubStudentRepo{account: models.StudentAccount{
		StudentID:       "student-1",
		BirthYear:       gateNow.Year() - 10,
		IsAccountActive: true,
	}}
	record := activeConsent()
	lapsed := gateNow.Add(-24 * time.Hour)
	record.ValidUntil = &lapsed
	svc, _ := newGateFixture(t, students, &stubConsentStatus{record: record})

	decision, err := svc.Check(context.Background(), "student-1", "minor", "/api/v1/reports")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, "guardian consent is on file but your account is not currently active; please contact your school", decision.Message)
}

func TestGateFailsClosedOnStudentLookupError(t *testing.T) {
	students := &stubStudentRepo{err: errors.New("connection reset")}
	svc, audit := newGateFixture(t, students, &stubConsentStatus{})

	decision, err := svc.Check(context.Background(), "student-1", "minor", "/api/v1/reports")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, "unknown", decision.ConsentStatus)
	require.Equal(t, "access temporarily unavailable; please contact your school", decision.Message)

	require.Len(t, audit.entries, 1)
	entry := audit.entries[0]
	require.Equal(t, "access_blocked", entry.Action)
	require.False(t, entry.Success)
	require.NotEmpty(t, entry.Error)
}

func TestGateFailsClosedOnConsentLookupError(t *testing.T) {
	students := &stubStudentRepo{account: models.StudentAccount{
		StudentID:       "student-1",
		BirthYear:       gateNow.Year() - 10,
		IsAccountActive: true,
	}}
	consent := &stubConsentStatus{err: errors.New("timeout")}
	svc, _ := newGateFixture(t, students, consent)

	decision, err := svc.Check(context.Background(), "student-1", "minor", "/api/v1/reports")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, "unknown", decision.ConsentStatus)
}

func TestGateBlockFailsWhenAuditFails(t *testing.T) {
	students := &stubStudentRepo{account: models.StudentAccount{
		StudentID:       "student-1",
		BirthYear:       gateNow.Year() - 10,
		IsAccountActive: true,
	}}
	consent := &stubConsentStatus{err: ErrConsentNotFound}
	svc, audit := newGateFixture(t, students, consent)
	audit.err = errors.New("audit store down")

	_, err := svc.Check(context.Background(), "student-1", "minor", "/api/v1/reports")
	require.Error(t, err)
}
