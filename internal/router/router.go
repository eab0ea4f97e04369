package router

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/brightpath-ed/safeguard-api/internal/config"
	"github.com/brightpath-ed/safeguard-api/internal/handler"
	"github.com/brightpath-ed/safeguard-api/internal/middleware"
	"github.com/brightpath-ed/safeguard-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ConsentHandler  *handler.ConsentHandler
	ContactHandler  *handler.ContactHandler
	DualAuthHandler *handler.DualAuthHandler
	ReportHandler   *handler.ReportHandler
	AuditHandler    *handler.AuditHandler
	SeedHandler     *handler.SeedHandler
	JWTMiddleware   fiber.Handler
	ConsentGate     fiber.Handler
}

// Register wires the HTTP routes into the fiber application. The guardian
// decision link and health endpoints stay outside the JWT and consent gate;
// everything else requires authentication, and student traffic additionally
// passes the gate.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}
	consentGate := deps.ConsentGate
	if consentGate == nil {
		consentGate = func(c *fiber.Ctx) error { return c.Next() }
	}

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	if deps.ConsentHandler != nil {
		// The decision link is emailed to guardians; it carries its own
		// verification code and is rate limited instead of authenticated.
		// Everything else on the consent surface is staff-only: minors and
		// other tokens must not request, revoke, renew or read consent
		// records, which carry guardian contact details.
		consents := api.Group("/consents")
		consents.Use("/decision", middleware.RateLimit("consent_decision", 10, time.Minute))
		consents.Use(guardOutsideDecisionLink(jwtMiddleware))
		consents.Use(guardOutsideDecisionLink(
			middleware.RequireRole("administrator", "principal", "counselor", "compliance", "security_admin")))
		deps.ConsentHandler.Register(consents)
	}

	if deps.ContactHandler != nil {
		contacts := api.Group("/contacts", jwtMiddleware, consentGate,
			middleware.RequireRole("administrator", "principal", "counselor", "compliance", "security_admin", "teacher"))
		deps.ContactHandler.Register(contacts)
	}

	if deps.DualAuthHandler != nil {
		unmask := api.Group("/unmask-requests", jwtMiddleware, consentGate,
			middleware.RequireRole("administrator", "principal", "counselor", "compliance", "security_admin"))
		deps.DualAuthHandler.Register(unmask)
	}

	if deps.ReportHandler != nil {
		reports := api.Group("/reports", jwtMiddleware, consentGate,
			middleware.RequireRole("administrator", "principal", "counselor", "compliance", "security_admin", "teacher"))
		deps.ReportHandler.Register(reports)
	}

	if deps.AuditHandler != nil {
		audit := api.Group("/audit", jwtMiddleware,
			middleware.RequireRole("administrator", "compliance", "security_admin"))
		deps.AuditHandler.Register(audit)
	}

	if deps.SeedHandler != nil {
		seed := api.Group("/admin/seed", jwtMiddleware,
			middleware.RequireRole("administrator"))
		deps.SeedHandler.Register(seed)
	}
}

// guardOutsideDecisionLink applies the JWT middleware to every consent route
// except the anonymous guardian decision endpoints.
func guardOutsideDecisionLink(jwtMiddleware fiber.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if strings.HasPrefix(c.Path(), "/api/v1/consents/decision") {
			return c.Next()
		}
		return jwtMiddleware(c)
	}
}
