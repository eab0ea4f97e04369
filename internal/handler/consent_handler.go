package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/brightpath-ed/safeguard-api/internal/dto"
	"github.com/brightpath-ed/safeguard-api/internal/service"
	"github.com/brightpath-ed/safeguard-api/internal/utils"
)

// ConsentHandler wires the guardian consent lifecycle routes.
type ConsentHandler struct {
	service   service.ConsentService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewConsentHandler constructs the handler.
func NewConsentHandler(service service.ConsentService, validator *validator.Validate, logger zerolog.Logger) *ConsentHandler {
	return &ConsentHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "consent_handler").Logger(),
	}
}

// Register attaches consent endpoints to the router group. The decision
// routes are reached through the emailed guardian link and carry no JWT.
func (h *ConsentHandler) Register(router fiber.Router) {
	router.Post("", h.request)
	router.Get("/decision/:code", h.linkAccessed)
	router.Post("/decision", h.decide)
	router.Get("/students/:studentID/status", h.status)
	router.Post("/:ref/revoke", h.revoke)
	router.Post("/:ref/renew", h.renew)
}

func (h *ConsentHandler) request(c *fiber.Ctx) error {
	var payload dto.ConsentRequestRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	consent, err := h.service.RequestConsent(c.UserContext(), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "consent request created", consent)
}

func (h *ConsentHandler) linkAccessed(c *fiber.Ctx) error {
	code := c.Params("code")
	if code == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "verification code missing")
	}

	consent, err := h.service.MarkLinkAccessed(c.UserContext(), code)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "consent request retrieved", consent)
}

func (h *ConsentHandler) decide(c *fiber.Ctx) error {
	var payload dto.ConsentDecisionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	consent, err := h.service.RecordDecision(c.UserContext(), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "consent decision recorded", consent)
}

func (h *ConsentHandler) status(c *fiber.Ctx) error {
	studentID := c.Params("studentID")
	if studentID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "student identifier missing")
	}

	record, err := h.service.StatusFor(c.UserContext(), studentID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "consent status retrieved", dto.NewConsentResponse(record))
}

func (h *ConsentHandler) revoke(c *fiber.Ctx) error {
	var payload dto.ConsentRevokeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	consent, err := h.service.Revoke(c.UserContext(), c.Params("ref"), payload.Reason, actorIDFromContext(c), actorRoleFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "consent revoked", consent)
}

func (h *ConsentHandler) renew(c *fiber.Ctx) error {
	consent, err := h.service.Renew(c.UserContext(), c.Params("ref"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "consent renewal requested", consent)
}

func (h *ConsentHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrConsentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "consent record not found")
	case errors.Is(err, service.ErrConsentImmutable):
		return utils.SendError(c, fiber.StatusConflict, "consent decision is final")
	case errors.Is(err, service.ErrConsentNotPending):
		return utils.SendError(c, fiber.StatusConflict, "consent request is no longer pending")
	case errors.Is(err, service.ErrConsentNotApproved):
		return utils.SendError(c, fiber.StatusConflict, "consent is not in an approved state")
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	default:
		return h.internalError(c, err)
	}
}

func (h *ConsentHandler) internalError(c *fiber.Ctx, err error) error {
	requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
