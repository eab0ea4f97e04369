package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/brightpath-ed/safeguard-api/internal/service"
)

type stubAccessGate struct {
	decision service.GateDecision
	err      error
	lastPath string
	calls    int
}

func (s *stubAccessGate) Check(ctx context.Context, actorID, actorRole, path string) (service.GateDecision, error) {
	s.calls++
	s.lastPath = path
	return s.decision, s.err
}

func newGateApp(gate service.AccessGateService, role string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", "student-1")
		c.Locals("user_role", role)
		return c.Next()
	})
	app.Use(ConsentGate(gate, zerolog.Nop()))
	app.Get("/api/v1/lessons", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Post("/api/v1/consents/decision/:code", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func TestConsentGateAllowsWhenDecisionAllows(t *testing.T) {
	gate := &stubAccessGate{decision: service.GateDecision{Allowed: true, ConsentStatus: "approved"}}
	app := newGateApp(gate, "minor")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/lessons", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, 1, gate.calls)
	require.Equal(t, "/api/v1/lessons", gate.lastPath)
}

func TestConsentGateBlocksWithConsentRequiredBody(t *testing.T) {
	gate := &stubAccessGate{decision: service.GateDecision{
		Allowed:       false,
		ConsentStatus: "pending",
		Message:       "a consent request was already sent to your guardian",
	}}
	app := newGateApp(gate, "minor")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/lessons", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Equal(t, "CONSENT_REQUIRED", payload["errorCode"])
	require.Equal(t, "pending", payload["consentStatus"])
}

func TestConsentGateBlocksWhenCheckErrors(t *testing.T) {
	gate := &stubAccessGate{
		decision: service.GateDecision{Allowed: false, ConsentStatus: "unknown", Message: "access temporarily unavailable"},
		err:      context.DeadlineExceeded,
	}
	app := newGateApp(gate, "minor")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/lessons", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestConsentGateSkipsExemptPaths(t *testing.T) {
	gate := &stubAccessGate{decision: service.GateDecision{Allowed: false, ConsentStatus: "denied"}}
	app := newGateApp(gate, "minor")

	for _, path := range []string{"/health", "/api/v1/consents/decision/abc"} {
		method := http.MethodGet
		if path != "/health" {
			method = http.MethodPost
		}
		resp, err := app.Test(httptest.NewRequest(method, path, nil))
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode, path)
	}
	require.Zero(t, gate.calls)
}
