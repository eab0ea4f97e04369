package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/brightpath-ed/safeguard-api/internal/dto"
	"github.com/brightpath-ed/safeguard-api/internal/service"
	"github.com/brightpath-ed/safeguard-api/internal/utils"
	"github.com/brightpath-ed/safeguard-api/pkg/envelope"
)

// ContactHandler wires the encrypted emergency contact routes. Identity data
// only ever leaves through the unmask endpoint, behind a verified
// dual-authorization request.
type ContactHandler struct {
	service   service.ContactService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewContactHandler constructs the handler.
func NewContactHandler(service service.ContactService, validator *validator.Validate, logger zerolog.Logger) *ContactHandler {
	return &ContactHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "contact_handler").Logger(),
	}
}

// Register attaches emergency contact endpoints to the router group.
func (h *ContactHandler) Register(router fiber.Router) {
	router.Post("", h.register)
	router.Get("/students/:studentID", h.listByStudent)
	router.Post("/unmask/:requestRef", h.unmask)
	router.Post("/rotate/:requestRef", h.rotate)
}

func (h *ContactHandler) register(c *fiber.Ctx) error {
	var payload dto.ContactRegisterRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	contact, err := h.service.Register(c.UserContext(), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "emergency contact registered", contact)
}

func (h *ContactHandler) listByStudent(c *fiber.Ctx) error {
	contacts, err := h.service.ListByStudent(c.UserContext(), c.Params("studentID"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "emergency contacts retrieved", contacts)
}

func (h *ContactHandler) unmask(c *fiber.Ctx) error {
	contact, err := h.service.Unmask(c.UserContext(), c.Params("requestRef"), actorIDFromContext(c), actorRoleFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "emergency contact unmasked", contact)
}

func (h *ContactHandler) rotate(c *fiber.Ctx) error {
	contact, err := h.service.Rotate(c.UserContext(), c.Params("requestRef"), actorIDFromContext(c), actorRoleFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "emergency contact key rotated", contact)
}

func (h *ContactHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrContactNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "emergency contact not found")
	case errors.Is(err, service.ErrRequestNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "unmask request not found")
	case errors.Is(err, service.ErrRequestNotPending), errors.Is(err, service.ErrApprovalThreshold):
		return utils.SendError(c, fiber.StatusForbidden, "unmask request is not fully approved")
	case errors.Is(err, service.ErrRequestExpired):
		return utils.SendError(c, fiber.StatusForbidden, "unmask request has expired")
	case errors.Is(err, envelope.ErrIntegrityCheckFailed):
		requestLogger(h.logger, c).Error().Err(err).Msg("contact payload failed integrity verification")
		return utils.SendError(c, fiber.StatusInternalServerError, "contact data could not be verified")
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	default:
		return h.internalError(c, err)
	}
}

func (h *ContactHandler) internalError(c *fiber.Ctx, err error) error {
	requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
