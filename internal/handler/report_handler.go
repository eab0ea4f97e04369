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

// ReportHandler wires the mandatory reporting routes.
type ReportHandler struct {
	service   service.ReportService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewReportHandler constructs the handler.
func NewReportHandler(service service.ReportService, validator *validator.Validate, logger zerolog.Logger) *ReportHandler {
	return &ReportHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "report_handler").Logger(),
	}
}

// Register attaches mandatory reporting endpoints to the router group.
func (h *ReportHandler) Register(router fiber.Router) {
	router.Post("/evaluate", h.evaluate)
	router.Post("", h.create)
	router.Get("", h.list)
	router.Get("/:number", h.get)
	router.Post("/:number/submit", h.submit)
	router.Post("/:number/acknowledge", h.acknowledge)
	router.Post("/:number/escalate", h.escalate)
	router.Post("/:number/escalations/:procedure/response", h.escalationResponse)
	router.Post("/:number/close", h.close)
}

func (h *ReportHandler) evaluate(c *fiber.Ctx) error {
	var payload dto.SignalEvaluateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	evaluation, err := h.service.Evaluate(c.UserContext(), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "signal evaluated", evaluation)
}

func (h *ReportHandler) create(c *fiber.Ctx) error {
	var payload dto.ReportCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	report, err := h.service.CreateReport(c.UserContext(), actorIDFromContext(c), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "mandatory report created", report)
}

func (h *ReportHandler) list(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	reports, err := h.service.List(c.UserContext(), c.Query("status"), limit)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "reports retrieved", reports)
}

func (h *ReportHandler) get(c *fiber.Ctx) error {
	report, err := h.service.Get(c.UserContext(), c.Params("number"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "report retrieved", report)
}

func (h *ReportHandler) submit(c *fiber.Ctx) error {
	report, err := h.service.Submit(c.UserContext(), c.Params("number"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "report submitted", report)
}

func (h *ReportHandler) acknowledge(c *fiber.Ctx) error {
	report, err := h.service.Acknowledge(c.UserContext(), c.Params("number"), actorIDFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "report acknowledged", report)
}

func (h *ReportHandler) escalate(c *fiber.Ctx) error {
	procedures := splitAndTrim(c.Query("procedures"))
	report, err := h.service.Escalate(c.UserContext(), c.Params("number"), actorIDFromContext(c), procedures)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "report escalated", report)
}

func (h *ReportHandler) escalationResponse(c *fiber.Ctx) error {
	note := c.Query("note")
	report, err := h.service.RecordEscalationResponse(c.UserContext(), c.Params("number"), c.Params("procedure"), note)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "escalation response recorded", report)
}

func (h *ReportHandler) close(c *fiber.Ctx) error {
	var payload dto.ReportCloseRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	report, err := h.service.Close(c.UserContext(), c.Params("number"), actorIDFromContext(c), payload.Reason)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "report closed", report)
}

func (h *ReportHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrReportNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "report not found")
	case errors.Is(err, service.ErrIllegalReportTransition):
		return utils.SendError(c, fiber.StatusConflict, "report cannot move to the requested state")
	case errors.Is(err, service.ErrSubmissionFailed):
		requestLogger(h.logger, c).Error().Err(err).Msg("report submission exhausted retries")
		return utils.SendError(c, fiber.StatusBadGateway, "report submission failed, compliance has been alerted")
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	default:
		return h.internalError(c, err)
	}
}

func (h *ReportHandler) internalError(c *fiber.Ctx, err error) error {
	requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
