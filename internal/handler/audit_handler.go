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

// AuditHandler exposes read access to the audit trail. Writes happen only
// through the service layer; there is no HTTP write surface.
type AuditHandler struct {
	service   service.AuditService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(service service.AuditService, validator *validator.Validate, logger zerolog.Logger) *AuditHandler {
	return &AuditHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "audit_handler").Logger(),
	}
}

// Register attaches the audit query endpoint to the router group.
func (h *AuditHandler) Register(router fiber.Router) {
	router.Get("", h.query)
}

func (h *AuditHandler) query(c *fiber.Ctx) error {
	var payload dto.AuditQueryRequest
	if err := c.QueryParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	events, err := h.service.Query(c.UserContext(), actorIDFromContext(c), actorRoleFromContext(c), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "audit events retrieved", events)
}

func (h *AuditHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrAuditQueryForbidden):
		return utils.SendError(c, fiber.StatusForbidden, "role is not authorized to query the audit trail")
	case errors.Is(err, service.ErrUnknownEventType):
		return utils.SendError(c, fiber.StatusBadRequest, "unknown event type")
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
