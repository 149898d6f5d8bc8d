package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/monihub/monihub/internal/core/ports"
	"github.com/monihub/monihub/internal/core/services"
	"github.com/monihub/monihub/internal/infrastructure/logger"
)

type InstanceHandler struct {
	instanceService ports.InstanceService
	logger          *logger.Logger
}

func NewInstanceHandler(instanceService ports.InstanceService, logger *logger.Logger) *InstanceHandler {
	return &InstanceHandler{instanceService: instanceService, logger: logger}
}

type CreateInstanceRequest struct {
	Name            string `json:"name"`
	AgentInstanceID string `json:"agent_instance_id,omitempty"`
}

func (h *InstanceHandler) CreateInstance(c *fiber.Ctx) error {
	var req CreateInstanceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	instance, err := h.instanceService.CreateInstance(c.Context(), ports.CreateInstanceInput{
		Name:            req.Name,
		AgentInstanceID: req.AgentInstanceID,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInstanceInvalidInput):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, services.ErrInstanceAlreadyExists):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		default:
			h.logger.Errorw("instance_create_failed", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}

func (h *InstanceHandler) GetInstances(c *fiber.Ctx) error {
	instances, err := h.instanceService.GetInstances(c.Context())
	if err != nil {
		h.logger.Errorw("instance_list_failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(instances)
}

func (h *InstanceHandler) GetInstance(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid instance id"})
	}

	instance, err := h.instanceService.GetInstanceByID(c.Context(), uint(id))
	if err != nil {
		if errors.Is(err, services.ErrInstanceNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "instance not found"})
		}
		h.logger.Errorw("instance_get_failed", "id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(instance)
}
