package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/ton-giveaways/backend/internal/http/dto"
	"github.com/ton-giveaways/backend/internal/middleware"
	"github.com/ton-giveaways/backend/internal/services"
	"go.uber.org/zap"
)

type GiveawayHandler struct {
	giveawayService *services.GiveawayService
	log             *zap.Logger
}

func NewGiveawayHandler(giveawayService *services.GiveawayService, log *zap.Logger) *GiveawayHandler {
	return &GiveawayHandler{giveawayService: giveawayService, log: log}
}

func (h *GiveawayHandler) CreateGiveaway(c *fiber.Ctx) error {
	var req dto.CreateGiveawayRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	in := services.CreateGiveawayInput{
		Type:          req.Giveaway.Type,
		EndsAt:        req.Giveaway.EndsAt,
		Amount:        req.Giveaway.Amount,
		ReceiverCount: req.Giveaway.ReceiverCount,
		TaskURL:       req.Giveaway.TaskURL,
	}
	if req.Giveaway.TokenAddress != nil {
		in.TokenAddress = *req.Giveaway.TokenAddress
	}

	out, err := h.giveawayService.Create(c.UserContext(), req.Secret, in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(out)
}

func (h *GiveawayHandler) GetGiveaway(c *fiber.Ctx) error {
	v, err := h.giveawayService.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(v)
}

func (h *GiveawayHandler) CheckIn(c *fiber.Ctx) error {
	out, err := h.giveawayService.CheckIn(c.UserContext(), c.Params("id"), middleware.GetAddress(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(out)
}

func (h *GiveawayHandler) GetCheckin(c *fiber.Ctx) error {
	status, err := h.giveawayService.GetCheckin(c.UserContext(), c.Params("id"), middleware.GetAddress(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.StatusResponse{Status: status})
}

func (h *GiveawayHandler) CompleteTask(c *fiber.Ctx) error {
	var req dto.CompleteTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	status, err := h.giveawayService.CompleteTask(c.UserContext(), c.Params("id"), req.TaskToken, req.ReceiverAddress)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.StatusResponse{Status: status})
}

func (h *GiveawayHandler) fail(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code == fiber.StatusInternalServerError {
		h.log.Error("giveaway request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(code).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.Status(code).JSON(dto.ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrGiveawayNotFound),
		errors.Is(err, services.ErrParticipantNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrAlreadyCheckedIn):
		return fiber.StatusTooManyRequests
	case errors.Is(err, services.ErrGiveawayFull):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrInvalidSecret),
		errors.Is(err, services.ErrInvalidGiveaway),
		errors.Is(err, services.ErrInvalidAddress),
		errors.Is(err, services.ErrGiveawayNotActive),
		errors.Is(err, services.ErrGiveawayEnded),
		errors.Is(err, services.ErrInvalidTaskToken),
		errors.Is(err, services.ErrInvalidParticipantState):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}
