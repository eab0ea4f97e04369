package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/brightpath-ed/safeguard-api/internal/dto"
	"github.com/brightpath-ed/safeguard-api/internal/models"
	"github.com/brightpath-ed/safeguard-api/internal/repository"
)

type stubConsentRepo struct {
	records map[string]*models.ConsentRecord
}

func newStubConsentRepo() *stubConsentRepo {
	return &stubConsentRepo{records: map[string]*models.ConsentRecord{}}
}

func (r *stubConsentRepo) Create(_ context.Context, record *models.ConsentRecord) error {
	clone := *record
	r.records[record.ReferenceID] = &clone
	return nil
}

func (r *stubConsentRepo) Update(_ context.Context, record *models.ConsentRecord) error {
	clone := *record
	r.records[record.ReferenceID] = &clone
	return nil
}

func (r *stubConsentRepo) FindByReference(_ context.Context, ref string) (models.ConsentRecord, error) {
	if record, ok := r.records[ref]; ok {
		return *record, nil
	}
	return models.ConsentRecord{}, repository.ErrRecordNotFound
}

func (r *stubConsentRepo) FindByVerificationCode(_ context.Context, code string) (models.ConsentRecord, error) {
	for _, record := range r.records {
		if record.VerificationCode == code {
			return *record, nil
		}
	}
	return models.ConsentRecord{}, repository.ErrRecordNotFound
}

func (r *stubConsentRepo) LatestForStudent(_ context.Context, studentID string) (models.ConsentRecord, error) {
	var latest *models.ConsentRecord
	for _, record := range r.records {
		if record.StudentID != studentID {
			continue
		}
		if latest == nil || record.RequestedAt.After(latest.RequestedAt) {
			latest = record
		}
	}
	if latest == nil {
		return models.ConsentRecord{}, repository.ErrRecordNotFound
	}
	return *latest, nil
}

func (r *stubConsentRepo) ExpirePending(_ context.Context, ref string, expiredAt time.Time) (bool, error) {
	record, ok := r.records[ref]
	if !ok || record.Status != models.ConsentStatusPending {
		return false, nil
	}
	record.Status = models.ConsentStatusExpired
	record.ExpiredAt = &expiredAt
	return true, nil
}

func (r *stubConsentRepo) ListExpiredPending(_ context.Context, now time.Time, _ int) ([]models.ConsentRecord, error) {
	var out []models.ConsentRecord
	for _, record := range r.records {
		if record.Status == models.ConsentStatusPending && record.RequestExpiresAt.Before(now) {
			out = append(out, *record)
		}
	}
	return out, nil
}

type recordingAudit struct {
	entries []AuditEntry
	err     error
}

func (a *recordingAudit) Append(_ context.Context, entry AuditEntry) error {
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, entry)
	return nil
}

func (a *recordingAudit) Query(_ context.Context, _, _ string, _ dto.AuditQueryRequest) ([]dto.AuditEventResponse, error) {
	return nil, nil
}

func (a *recordingAudit) actions() []string {
	out := make([]string, 0, len(a.entries))
	for _, entry := range a.entries {
		out = append(out, entry.Action)
	}
	return out
}

type recordingNotifier struct {
	reasons []string
	err     error
}

func (n *recordingNotifier) NotifyGuardian(_ context.Context, _ models.ConsentRecord, reason string) error {
	n.reasons = append(n.reasons, reason)
	return n.err
}

func (n *recordingNotifier) AlertFailedSubmission(_ context.Context, _ models.SafetyReport, _ string) error {
	return nil
}

func newConsentFixture(t *testing.T, cfg ConsentConfig) (*consentService, *stubConsentRepo, *recordingAudit, *recordingNotifier) {
	t.Helper()
	repo := newStubConsentRepo()
	audit := &recordingAudit{}
	notifier := &recordingNotifier{}
	svc := NewConsentService(repo, audit, notifier, nil, validator.New(), cfg, zerolog.Nop()).(*consentService)
	return svc, repo, audit, notifier
}

func TestRequestConsentCreatesPendingRecord(t *testing.T) {
	svc, repo, audit, notifier := newConsentFixture(t, ConsentConfig{})

	resp, err := svc.RequestConsent(context.Background(), dto.ConsentRequestRequest{
		StudentID:     "student-1",
		GuardianName:  "Dana Reyes",
		GuardianEmail: "Dana@Example.com",
	})
	require.NoError(t, err)
	require.Equal(t, models.ConsentStatusPending, resp.Status)
	require.False(t, resp.IsImmutable)

	stored := repo.records[resp.ReferenceID]
	require.NotNil(t, stored)
	require.Equal(t, "dana@example.com", stored.GuardianEmail)
	require.Len(t, stored.VerificationCode, 48)
	require.WithinDuration(t, stored.RequestedAt.Add(72*time.Hour), stored.RequestExpiresAt, time.Second)

	require.Contains(t, audit.actions(), "consent_requested")
	require.Equal(t, []string{"consent_requested"}, notifier.reasons)
}

func TestRequestConsentRejectsInvalidEmail(t *testing.T) {
	svc, repo, _, _ := newConsentFixture(t, ConsentConfig{})

	_, err := svc.RequestConsent(context.Background(), dto.ConsentRequestRequest{
		StudentID:     "student-1",
		GuardianName:  "Dana Reyes",
		GuardianEmail: "nope",
	})
	require.Error(t, err)
	require.Empty(t, repo.records)
}

func TestRecordDecisionApprovalSetsValidityAndLocksRecord(t *testing.T) {
	svc, repo, _, notifier := newConsentFixture(t, ConsentConfig{})

	created, err := svc.RequestConsent(context.Background(), dto.ConsentRequestRequest{
		StudentID:     "student-1",
		GuardianName:  "Dana Reyes",
		GuardianEmail: "dana@example.com",
	})
	require.NoError(t, err)
	code := repo.records[created.ReferenceID].VerificationCode

	resp, err := svc.RecordDecision(context.Background(), dto.ConsentDecisionRequest{
		VerificationCode: code,
		Decision:         models.ConsentStatusApproved,
	})
	require.NoError(t, err)
	require.Equal(t, models.ConsentStatusApproved, resp.Status)
	require.True(t, resp.IsImmutable)
	require.NotNil(t, resp.ValidFrom)
	require.NotNil(t, resp.ValidUntil)
	require.WithinDuration(t, resp.ValidFrom.Add(365*24*time.Hour), *resp.ValidUntil, time.Second)
	require.Contains(t, notifier.reasons, "consent_approved")
}

func TestRecordDecisionIsFinal(t *testing.T) {
	svc, repo, _, _ := newConsentFixture(t, ConsentConfig{})

	created, err := svc.RequestConsent(context.Background(), dto.ConsentRequestRequest{
		StudentID:     "student-1",
		GuardianName:  "Dana Reyes",
		GuardianEmail: "dana@example.com",
	})
	require.NoError(t, err)
	code := repo.records[created.ReferenceID].VerificationCode

	_, err = svc.RecordDecision(context.Background(), dto.ConsentDecisionRequest{
		VerificationCode: code,
		Decision:         models.ConsentStatusDenied,
	})
	require.NoError(t, err)

	_, err = svc.RecordDecision(context.Background(), dto.ConsentDecisionRequest{
		VerificationCode: code,
		Decision:         models.ConsentStatusApproved,
	})
	require.ErrorIs(t, err, ErrConsentImmutable)
	require.Equal(t, models.ConsentStatusDenied, repo.records[created.ReferenceID].Status)
}

func TestRecordDecisionUnknownCode(t *testing.T) {
	svc, _, _, _ := newConsentFixture(t, ConsentConfig{})

	_, err := svc.RecordDecision(context.Background(), dto.ConsentDecisionRequest{
		VerificationCode: "0123456789abcdef0123456789abcdef",
		Decision:         models.ConsentStatusApproved,
	})
	require.ErrorIs(t, err, ErrConsentNotFound)
}

func TestRevokeRequiresApprovedStatus(t *testing.T) {
	svc, repo, audit, _ := newConsentFixture(t, ConsentConfig{})

	created, err := svc.RequestConsent(context.Background(), dto.ConsentRequestRequest{
		StudentID:     "student-1",
		GuardianName:  "Dana Reyes",
		GuardianEmail: "dana@example.com",
	})
	require.NoError(t, err)

	_, err = svc.Revoke(context.Background(), created.ReferenceID, "changed my mind", "guardian-1", "guardian")
	require.ErrorIs(t, err, ErrConsentNotApproved)

	code := repo.records[created.ReferenceID].VerificationCode
	_, err = svc.RecordDecision(context.Background(), dto.ConsentDecisionRequest{
		VerificationCode: code,
		Decision:         models.ConsentStatusApproved,
	})
	require.NoError(t, err)

	resp, err := svc.Revoke(context.Background(), created.ReferenceID, "changed my mind", "guardian-1", "guardian")
	require.NoError(t, err)
	require.Equal(t, models.ConsentStatusRevoked, resp.Status)
	require.NotNil(t, resp.DecidedAt)
	require.Contains(t, audit.actions(), "consent_revoked")
}

func TestRenewCreatesSupersedingPendingRecord(t *testing.T) {
	svc, repo, _, _ := newConsentFixture(t, ConsentConfig{})

	created, err := svc.RequestConsent(context.Background(), dto.ConsentRequestRequest{
		StudentID:     "student-1",
		GuardianName:  "Dana Reyes",
		GuardianEmail: "dana@example.com",
	})
	require.NoError(t, err)

	renewal, err := svc.Renew(context.Background(), created.ReferenceID)
	require.NoError(t, err)
	require.True(t, renewal.IsRenewal)
	require.Equal(t, models.ConsentStatusPending, renewal.Status)
	require.Equal(t, created.ReferenceID, repo.records[renewal.ReferenceID].SupersedesRef)
	require.NotEqual(t, created.ReferenceID, renewal.ReferenceID)
}

func TestRenewalApprovalGetsShorterValidity(t *testing.T) {
	svc, repo, _, _ := newConsentFixture(t, ConsentConfig{})

	created, err := svc.RequestConsent(context.Background(), dto.ConsentRequestRequest{
		StudentID:     "student-1",
		GuardianName:  "Dana Reyes",
		GuardianEmail: "dana@example.com",
	})
	require.NoError(t, err)

	renewal, err := svc.Renew(context.Background(), created.ReferenceID)
	require.NoError(t, err)

	code := repo.records[renewal.ReferenceID].VerificationCode
	resp, err := svc.RecordDecision(context.Background(), dto.ConsentDecisionRequest{
		VerificationCode: code,
		Decision:         models.ConsentStatusApproved,
	})
	require.NoError(t, err)
	require.WithinDuration(t, resp.ValidFrom.Add(90*24*time.Hour), *resp.ValidUntil, time.Second)
}

func TestSweepExpiresStalePendingRequests(t *testing.T) {
	svc, repo, audit, _ := newConsentFixture(t, ConsentConfig{RequestWindow: time.Hour})

	created, err := svc.RequestConsent(context.Background(), dto.ConsentRequestRequest{
		StudentID:     "student-1",
		GuardianName:  "Dana Reyes",
		GuardianEmail: "dana@example.com",
	})
	require.NoError(t, err)

	svc.clock = func() time.Time { return time.Now().Add(2 * time.Hour) }

	count, err := svc.SweepExpirations(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, models.ConsentStatusExpired, repo.records[created.ReferenceID].Status)
	require.Contains(t, audit.actions(), "consent_expired")

	// Sweep is idempotent.
	count, err = svc.SweepExpirations(context.Background())
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestSweepDoesNotOverrideDecision(t *testing.T) {
	svc, repo, _, _ := newConsentFixture(t, ConsentConfig{RequestWindow: time.Hour})

	created, err := svc.RequestConsent(context.Background(), dto.ConsentRequestRequest{
		StudentID:     "student-1",
		GuardianName:  "Dana Reyes",
		GuardianEmail: "dana@example.com",
	})
	require.NoError(t, err)
	code := repo.records[created.ReferenceID].VerificationCode

	_, err = svc.RecordDecision(context.Background(), dto.ConsentDecisionRequest{
		VerificationCode: code,
		Decision:         models.ConsentStatusApproved,
	})
	require.NoError(t, err)

	svc.clock = func() time.Time { return time.Now().Add(2 * time.Hour) }
	count, err := svc.SweepExpirations(context.Background())
	require.NoError(t, err)
	require.Zero(t, count)
	require.Equal(t, models.ConsentStatusApproved, repo.records[created.ReferenceID].Status)
}

func TestNotifierFailureDoesNotBlockTransition(t *testing.T) {
	svc, _, audit, notifier := newConsentFixture(t, ConsentConfig{})
	notifier.err = context.DeadlineExceeded

	resp, err := svc.RequestConsent(context.Background(), dto.ConsentRequestRequest{
		StudentID:     "student-1",
		GuardianName:  "Dana Reyes",
		GuardianEmail: "dana@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, models.ConsentStatusPending, resp.Status)

	var notificationAudited bool
	for _, entry := range audit.entries {
		if entry.EventType == models.AuditNotification && !entry.Success {
			notificationAudited = true
		}
	}
	require.True(t, notificationAudited)
}
