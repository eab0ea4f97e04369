package utils

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func performRequest(t *testing.T, handler fiber.Handler) (int, map[string]interface{}) {
	t.Helper()
	app := fiber.New()
	app.Get("/", handler)

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	return resp.StatusCode, payload
}

func TestSendSuccessDefaultsMessage(t *testing.T) {
	status, payload := performRequest(t, func(c *fiber.Ctx) error {
		return SendSuccess(c, "", fiber.Map{"value": 1})
	})

	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, true, payload["success"])
	require.Equal(t, "success", payload["message"])
}

func TestFailIncludesMeta(t *testing.T) {
	status, payload := performRequest(t, func(c *fiber.Ctx) error {
		return Fail(c, fiber.StatusBadRequest, "invalid", fiber.Map{"field": "name"})
	})

	require.Equal(t, fiber.StatusBadRequest, status)
	require.Equal(t, false, payload["success"])
	require.Equal(t, "invalid", payload["message"])
	require.NotNil(t, payload["meta"])
}

func TestSendConsentBlockedBody(t *testing.T) {
	status, payload := performRequest(t, func(c *fiber.Ctx) error {
		return SendConsentBlocked(c, "pending", "waiting on guardian")
	})

	require.Equal(t, fiber.StatusForbidden, status)
	require.Equal(t, "CONSENT_REQUIRED", payload["errorCode"])
	require.Equal(t, "pending", payload["consentStatus"])
	require.Equal(t, "waiting on guardian", payload["message"])
}
