package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/monihub/monihub/internal/core/ports"
	"github.com/monihub/monihub/internal/core/services"
	"github.com/monihub/monihub/internal/domain"
	"github.com/monihub/monihub/internal/infrastructure/logger"
)

type TaskHandler struct {
	taskService ports.TaskService
	logger      *logger.Logger
}

func NewTaskHandler(taskService ports.TaskService, logger *logger.Logger) *TaskHandler {
	return &TaskHandler{taskService: taskService, logger: logger}
}

type CreateTaskRequest struct {
	TaskType        string       `json:"task_type"`
	TaskContent     domain.JSONB `json:"task_content"`
	TargetInstances []uint       `json:"target_instances"`
	TimeoutSeconds  int          `json:"timeout_seconds,omitempty"`
	Priority        int          `json:"priority,omitempty"`
	RetryCount      int          `json:"retry_count,omitempty"`
	ApplicationID   uint         `json:"application_id,omitempty"`
}

func (h *TaskHandler) CreateTask(c *fiber.Ctx) error {
	var req CreateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	task, records, err := h.taskService.CreateTask(c.Context(), ports.CreateTaskInput{
		TaskType:        domain.TaskType(req.TaskType),
		TaskContent:     req.TaskContent,
		TargetInstances: req.TargetInstances,
		TimeoutSeconds:  req.TimeoutSeconds,
		Priority:        req.Priority,
		RetryCount:      req.RetryCount,
		ApplicationID:   req.ApplicationID,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrTaskInvalidInput):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, services.ErrInstanceNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		default:
			h.logger.Errorw("task_create_failed", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"task":    task,
		"records": records,
	})
}

func (h *TaskHandler) GetTask(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid task id"})
	}

	task, err := h.taskService.GetTask(c.Context(), uint(id))
	if err != nil {
		if errors.Is(err, services.ErrTaskNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "task not found"})
		}
		h.logger.Errorw("task_get_failed", "id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(task)
}

func (h *TaskHandler) DeleteTask(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid task id"})
	}

	if err := h.taskService.DeleteTask(c.Context(), uint(id)); err != nil {
		if errors.Is(err, services.ErrTaskNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "task not found"})
		}
		h.logger.Errorw("task_delete_failed", "id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "success"})
}

func (h *TaskHandler) GetRecords(c *fiber.Ctx) error {
	instanceID := c.QueryInt("instance_id", 0)
	limit := c.QueryInt("limit", 100)

	records, err := h.taskService.GetRecords(c.Context(), uint(instanceID), limit)
	if err != nil {
		h.logger.Errorw("task_records_list_failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(records)
}

func (h *TaskHandler) RetryRecord(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid record id"})
	}

	record, err := h.taskService.RetryRecord(c.Context(), uint(id))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrRecordNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "record not found"})
		case errors.Is(err, services.ErrRecordNotRetryable):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		default:
			h.logger.Errorw("task_record_retry_failed", "id", id, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
	}
	return c.JSON(record)
}

func (h *TaskHandler) CancelRecord(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid record id"})
	}

	record, err := h.taskService.CancelRecord(c.Context(), uint(id))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrRecordNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "record not found"})
		case errors.Is(err, services.ErrRecordTerminal):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		default:
			h.logger.Errorw("task_record_cancel_failed", "id", id, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
	}
	return c.JSON(record)
}
