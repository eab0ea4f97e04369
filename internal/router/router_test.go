package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/brightpath-ed/safeguard-api/internal/config"
	"github.com/brightpath-ed/safeguard-api/internal/dto"
	"github.com/brightpath-ed/safeguard-api/internal/handler"
	"github.com/brightpath-ed/safeguard-api/internal/models"
)

type routerConsentService struct {
	response dto.ConsentResponse
}

func (s *routerConsentService) RequestConsent(_ context.Context, _ dto.ConsentRequestRequest) (dto.ConsentResponse, error) {
	return s.response, nil
}

func (s *routerConsentService) MarkLinkAccessed(_ context.Context, _ string) (dto.ConsentResponse, error) {
	return s.response, nil
}

func (s *routerConsentService) RecordDecision(_ context.Context, _ dto.ConsentDecisionRequest) (dto.ConsentResponse, error) {
	return s.response, nil
}

func (s *routerConsentService) Revoke(_ context.Context, _, _, _, _ string) (dto.ConsentResponse, error) {
	return s.response, nil
}

func (s *routerConsentService) Renew(_ context.Context, _ string) (dto.ConsentResponse, error) {
	return s.response, nil
}

func (s *routerConsentService) StatusFor(_ context.Context, _ string) (models.ConsentRecord, error) {
	return models.ConsentRecord{ReferenceID: "cns-1", Status: models.ConsentStatusApproved}, nil
}

func (s *routerConsentService) SweepExpirations(_ context.Context) (int, error) { return 0, nil }

func (s *routerConsentService) Start(_ context.Context) {}

func newConsentRouterApp(t *testing.T, role string) *fiber.App {
	t.Helper()
	consentHandler := handler.NewConsentHandler(
		&routerConsentService{response: dto.ConsentResponse{ReferenceID: "cns-1"}},
		validator.New(validator.WithRequiredStructEnabled()),
		zerolog.Nop(),
	)

	app := fiber.New()
	Register(app, config.Config{AppName: "SafeGuard API"}, Dependencies{
		ConsentHandler: consentHandler,
		JWTMiddleware: func(c *fiber.Ctx) error {
			if role == "" {
				return c.SendStatus(fiber.StatusUnauthorized)
			}
			c.Locals("user_id", "actor-1")
			c.Locals("user_role", role)
			return c.Next()
		},
	})
	return app
}

func revokeRequest(t *testing.T) *http.Request {
	t.Helper()
	body, err := json.Marshal(dto.ConsentRevokeRequest{Reason: "guardian request"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/consents/cns-1/revoke", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestConsentWriteRoutesRejectMinors(t *testing.T) {
	app := newConsentRouterApp(t, "minor")

	resp, err := app.Test(revokeRequest(t))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/consents/students/student-1/status", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/consents/cns-1/renew", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestConsentWriteRoutesAllowStaff(t *testing.T) {
	app := newConsentRouterApp(t, "counselor")

	resp, err := app.Test(revokeRequest(t))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/consents/students/student-1/status", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestGuardianDecisionLinkNeedsNoToken(t *testing.T) {
	app := newConsentRouterApp(t, "")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/consents/decision/some-verification-code", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}
