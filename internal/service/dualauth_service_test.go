package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/brightpath-ed/safeguard-api/internal/dto"
	"github.com/brightpath-ed/safeguard-api/internal/models"
	"github.com/brightpath-ed/safeguard-api/internal/repository"
)

type stubDualAuthRepo struct {
	mu       sync.Mutex
	requests map[string]*models.DualAuthRequest
}

func newStubDualAuthRepo() *stubDualAuthRepo {
	return &stubDualAuthRepo{requests: map[string]*models.DualAuthRequest{}}
}

func (r *stubDualAuthRepo) Create(_ context.Context, request *models.DualAuthRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *request
	r.requests[request.ReferenceID] = &clone
	return nil
}

func (r *stubDualAuthRepo) FindByReference(_ context.Context, ref string) (models.DualAuthRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if request, ok := r.requests[ref]; ok {
		return *request, nil
	}
	return models.DualAuthRequest{}, repository.ErrRecordNotFound
}

func (r *stubDualAuthRepo) UpdateWithVersion(_ context.Context, request *models.DualAuthRequest, newApprovals []models.DualAuthApproval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.requests[request.ReferenceID]
	if !ok {
		return repository.ErrRecordNotFound
	}
	if stored.Version != request.Version {
		return repository.ErrVersionConflict
	}
	clone := *request
	clone.Approvals = append(append([]models.DualAuthApproval{}, stored.Approvals...), newApprovals...)
	clone.Version++
	r.requests[request.ReferenceID] = &clone
	request.Version = clone.Version
	return nil
}

func newDualAuthFixture(t *testing.T) (*dualAuthService, *stubDualAuthRepo, *recordingAudit) {
	t.Helper()
	repo := newStubDualAuthRepo()
	audit := &recordingAudit{}
	svc := NewDualAuthService(repo, audit, nil, validator.New(), zerolog.Nop()).(*dualAuthService)
	return svc, repo, audit
}

func requestFixture(t *testing.T, svc *dualAuthService, urgency string) dto.DualAuthResponse {
	t.Helper()
	resp, err := svc.RequestAccess(context.Background(), "counselor-1", "counselor", dto.DualAuthRequestRequest{
		ContactRef:    "contact-1",
		Justification: "student unreachable, guardian contact needed",
		Urgency:       urgency,
	})
	require.NoError(t, err)
	return resp
}

func TestRequestAccessRoutineNeedsTwoApprovals(t *testing.T) {
	svc, _, audit := newDualAuthFixture(t)

	resp := requestFixture(t, svc, models.UrgencyRoutine)
	require.Equal(t, models.DualAuthStatusPending, resp.Status)
	require.Equal(t, 2, resp.RequiredCount)
	require.WithinDuration(t, time.Now().Add(24*time.Hour), resp.ExpiresAt, time.Minute)
	require.Contains(t, audit.actions(), "unmask_requested")
}

func TestRequestAccessEmergencyNeedsOneApproval(t *testing.T) {
	svc, _, _ := newDualAuthFixture(t)

	resp := requestFixture(t, svc, models.UrgencyEmergency)
	require.Equal(t, 1, resp.RequiredCount)
	require.WithinDuration(t, time.Now().Add(time.Hour), resp.ExpiresAt, time.Minute)
}

func TestRequestAccessCourtOrderAutoApproves(t *testing.T) {
	svc, _, _ := newDualAuthFixture(t)

	resp := requestFixture(t, svc, models.UrgencyCourtOrder)
	require.Equal(t, models.DualAuthStatusApproved, resp.Status)
	require.Len(t, resp.Approvals, 1)
	require.Equal(t, "legal_system", resp.Approvals[0].ApproverID)
	require.Equal(t, models.ApprovalMethodLegalMandate, resp.Approvals[0].Method)
}

func TestRequestAccessSanitizesJustification(t *testing.T) {
	svc, repo, _ := newDualAuthFixture(t)

	resp, err := svc.RequestAccess(context.Background(), "counselor-1", "counselor", dto.DualAuthRequestRequest{
		ContactRef:    "contact-1",
		Justification: "<script>alert(1)</script>need guardian phone for pickup",
		Urgency:       models.UrgencyRoutine,
	})
	require.NoError(t, err)
	require.Equal(t, "need guardian phone for pickup", repo.requests[resp.ReferenceID].Justification)
}

func TestApproveReachesThreshold(t *testing.T) {
	svc, repo, audit := newDualAuthFixture(t)
	resp := requestFixture(t, svc, models.UrgencyRoutine)

	first, err := svc.Approve(context.Background(), resp.ReferenceID, "principal-1", "principal")
	require.NoError(t, err)
	require.Equal(t, models.DualAuthStatusPending, first.Status)
	require.Len(t, repo.requests[resp.ReferenceID].Approvals, 1)

	second, err := svc.Approve(context.Background(), resp.ReferenceID, "admin-1", "administrator")
	require.NoError(t, err)
	require.Equal(t, models.DualAuthStatusApproved, second.Status)
	require.NotNil(t, second.DecidedAt)
	require.Contains(t, audit.actions(), "unmask_approved")
}

func TestApproveRejectsSelfApproval(t *testing.T) {
	svc, _, _ := newDualAuthFixture(t)
	resp := requestFixture(t, svc, models.UrgencyRoutine)

	_, err := svc.Approve(context.Background(), resp.ReferenceID, "counselor-1", "counselor")
	require.ErrorIs(t, err, ErrSelfApproval)
}

func TestApproveRejectsUnauthorizedRole(t *testing.T) {
	svc, _, _ := newDualAuthFixture(t)
	resp := requestFixture(t, svc, models.UrgencyRoutine)

	_, err := svc.Approve(context.Background(), resp.ReferenceID, "student-1", "minor")
	require.ErrorIs(t, err, ErrUnauthorizedApprover)
}

func TestApproveRejectsDuplicateApprover(t *testing.T) {
	svc, _, _ := newDualAuthFixture(t)
	resp := requestFixture(t, svc, models.UrgencyRoutine)

	_, err := svc.Approve(context.Background(), resp.ReferenceID, "principal-1", "principal")
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), resp.ReferenceID, "principal-1", "principal")
	require.ErrorIs(t, err, ErrDuplicateApproval)
}

func TestApproveExpiredRequest(t *testing.T) {
	svc, repo, _ := newDualAuthFixture(t)
	resp := requestFixture(t, svc, models.UrgencyRoutine)

	svc.clock = func() time.Time { return time.Now().Add(25 * time.Hour) }

	_, err := svc.Approve(context.Background(), resp.ReferenceID, "principal-1", "principal")
	require.ErrorIs(t, err, ErrRequestExpired)
	require.Equal(t, models.DualAuthStatusExpired, repo.requests[resp.ReferenceID].Status)
}

func TestDenyIsTerminal(t *testing.T) {
	svc, _, audit := newDualAuthFixture(t)
	resp := requestFixture(t, svc, models.UrgencyRoutine)

	denied, err := svc.Deny(context.Background(), resp.ReferenceID, "principal-1", "principal")
	require.NoError(t, err)
	require.Equal(t, models.DualAuthStatusDenied, denied.Status)
	require.Contains(t, audit.actions(), "unmask_denied")

	_, err = svc.Approve(context.Background(), resp.ReferenceID, "admin-1", "administrator")
	require.ErrorIs(t, err, ErrRequestNotPending)
}

func TestVerifyRequiresApprovedUnexpiredRequest(t *testing.T) {
	svc, _, _ := newDualAuthFixture(t)
	resp := requestFixture(t, svc, models.UrgencyEmergency)

	_, err := svc.Verify(context.Background(), resp.ReferenceID)
	require.ErrorIs(t, err, ErrRequestNotPending)

	_, err = svc.Approve(context.Background(), resp.ReferenceID, "principal-1", "principal")
	require.NoError(t, err)

	request, err := svc.Verify(context.Background(), resp.ReferenceID)
	require.NoError(t, err)
	require.Equal(t, models.DualAuthStatusApproved, request.Status)

	svc.clock = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.Verify(context.Background(), resp.ReferenceID)
	require.ErrorIs(t, err, ErrRequestExpired)
}

func TestVerifyUnknownRequest(t *testing.T) {
	svc, _, _ := newDualAuthFixture(t)

	_, err := svc.Verify(context.Background(), "missing")
	require.ErrorIs(t, err, ErrRequestNotFound)
}

func TestConcurrentApprovalsRecordEachApproverOnce(t *testing.T) {
	svc, repo, _ := newDualAuthFixture(t)
	resp := requestFixture(t, svc, models.UrgencyRoutine)

	approvers := []struct{ id, role string }{
		{"principal-1", "principal"},
		{"admin-1", "administrator"},
		{"compliance-1", "compliance"},
	}

	var wg sync.WaitGroup
	for _, approver := range approvers {
		wg.Add(1)
		go func(id, role string) {
			defer wg.Done()
			_, _ = svc.Approve(context.Background(), resp.ReferenceID, id, role)
		}(approver.id, approver.role)
	}
	wg.Wait()

	stored := repo.requests[resp.ReferenceID]
	require.Equal(t, models.DualAuthStatusApproved, stored.Status)
	seen := map[string]int{}
	for _, approval := range stored.Approvals {
		seen[approval.ApproverID]++
	}
	for id, count := range seen {
		require.Equal(t, 1, count, id)
	}
	require.GreaterOrEqual(t, len(stored.Approvals), 2)
}
