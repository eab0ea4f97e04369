package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/brightpath-ed/safeguard-api/internal/dto"
	"github.com/brightpath-ed/safeguard-api/internal/repository"
	"github.com/brightpath-ed/safeguard-api/internal/service"
	"github.com/brightpath-ed/safeguard-api/internal/utils"
)

// DualAuthHandler wires the unmask request and approval routes.
type DualAuthHandler struct {
	service   service.DualAuthService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewDualAuthHandler constructs the handler.
func NewDualAuthHandler(service service.DualAuthService, validator *validator.Validate, logger zerolog.Logger) *DualAuthHandler {
	return &DualAuthHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "dualauth_handler").Logger(),
	}
}

// Register attaches unmask request endpoints to the router group.
func (h *DualAuthHandler) Register(router fiber.Router) {
	router.Post("", h.request)
	router.Get("/:ref", h.get)
	router.Post("/:ref/approve", h.approve)
	router.Post("/:ref/deny", h.deny)
}

func (h *DualAuthHandler) request(c *fiber.Ctx) error {
	var payload dto.DualAuthRequestRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	request, err := h.service.RequestAccess(c.UserContext(), actorIDFromContext(c), actorRoleFromContext(c), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "unmask request created", request)
}

func (h *DualAuthHandler) get(c *fiber.Ctx) error {
	request, err := h.service.Get(c.UserContext(), c.Params("ref"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "unmask request retrieved", request)
}

func (h *DualAuthHandler) approve(c *fiber.Ctx) error {
	request, err := h.service.Approve(c.UserContext(), c.Params("ref"), actorIDFromContext(c), actorRoleFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "approval recorded", request)
}

func (h *DualAuthHandler) deny(c *fiber.Ctx) error {
	request, err := h.service.Deny(c.UserContext(), c.Params("ref"), actorIDFromContext(c), actorRoleFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "denial recorded", request)
}

func (h *DualAuthHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrRequestNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "unmask request not found")
	case errors.Is(err, service.ErrContactNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "emergency contact not found")
	case errors.Is(err, service.ErrSelfApproval):
		return utils.SendError(c, fiber.StatusForbidden, "requesters cannot approve their own request")
	case errors.Is(err, service.ErrUnauthorizedApprover):
		return utils.SendError(c, fiber.StatusForbidden, "role is not authorized to approve unmask requests")
	case errors.Is(err, service.ErrDuplicateApproval):
		return utils.SendError(c, fiber.StatusConflict, "approver has already decided this request")
	case errors.Is(err, service.ErrRequestExpired):
		return utils.SendError(c, fiber.StatusConflict, "unmask request has expired")
	case errors.Is(err, service.ErrRequestNotPending):
		return utils.SendError(c, fiber.StatusConflict, "unmask request is no longer pending")
	case errors.Is(err, repository.ErrVersionConflict):
		return utils.SendError(c, fiber.StatusConflict, "request was modified concurrently, retry")
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	default:
		return h.internalError(c, err)
	}
}

func (h *DualAuthHandler) internalError(c *fiber.Ctx, err error) error {
	requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
