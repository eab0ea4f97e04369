package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/brightpath-ed/safeguard-api/internal/observability"
	"github.com/brightpath-ed/safeguard-api/internal/service"
	"github.com/brightpath-ed/safeguard-api/internal/utils"
)

// gateExemptPrefixes are reachable without an approved consent record. The
// guardian decision link must stay open or a blocked student could never
// become unblocked.
var gateExemptPrefixes = []string{
	"/health",
	"/metrics",
	"/api/v1/auth",
	"/api/v1/consents/decision",
}

// ConsentGate blocks platform access for under-age students without active
// guardian consent. Gate errors never fail open: the service returns a
// blocking decision alongside the error and the request is rejected.
func ConsentGate(gate service.AccessGateService, logger zerolog.Logger) fiber.Handler {
	observability.RegisterMetrics()
	gateLogger := logger.With().Str("component", "consent_gate").Logger()

	return func(c *fiber.Ctx) error {
		path := c.Path()
		for _, prefix := range gateExemptPrefixes {
			if strings.HasPrefix(path, prefix) {
				return c.Next()
			}
		}

		actorID, _ := c.Locals("user_id").(string)
		actorRole := normalizeRoleValue(c.Locals("user_role"))

		decision, err := gate.Check(c.UserContext(), actorID, actorRole, path)
		if err != nil {
			gateLogger.Error().Err(err).
				Str("correlation_id", GetCorrelationID(c)).
				Str("actor_id", actorID).
				Str("path", path).
				Msg("gate check failed, blocking request")
		}

		if !decision.Allowed {
			return utils.SendConsentBlocked(c, decision.ConsentStatus, decision.Message)
		}
		return c.Next()
	}
}
