package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/monihub/monihub/internal/core/ports"
	"github.com/monihub/monihub/internal/core/services"
	"github.com/monihub/monihub/internal/domain"
	"github.com/monihub/monihub/internal/infrastructure/logger"
)

// AgentHandler serves the open endpoints consumed by agents: telemetry
// reports, task pulls and result submissions.
type AgentHandler struct {
	instanceService ports.InstanceService
	taskService     ports.TaskService
	logger          *logger.Logger
}

func NewAgentHandler(instanceService ports.InstanceService, taskService ports.TaskService, logger *logger.Logger) *AgentHandler {
	return &AgentHandler{instanceService: instanceService, taskService: taskService, logger: logger}
}

type ReportRequest struct {
	InstanceID      string            `json:"instance_id"`
	AgentType       string            `json:"agent_type"`
	AgentVersion    string            `json:"agent_version"`
	SystemInfo      domain.JSONB      `json:"system_info"`
	NetworkInfo     domain.JSONB      `json:"network_info"`
	HardwareInfo    domain.JSONB      `json:"hardware_info"`
	RuntimeInfo     domain.JSONB      `json:"runtime_info"`
	CustomMetrics   domain.JSONB      `json:"custom_metrics,omitempty"`
	ReportTimestamp string            `json:"report_timestamp"`
	Logs            domain.JSONBArray `json:"logs,omitempty"`
}

type SubmitResultRequest struct {
	RecordID      uint         `json:"record_id"`
	InstanceID    string       `json:"instance_id"`
	Status        string       `json:"status"`
	ResultCode    int          `json:"result_code"`
	ResultMessage string       `json:"result_message,omitempty"`
	ResultData    domain.JSONB `json:"result_data,omitempty"`
	ErrorMessage  string       `json:"error_message,omitempty"`
	StartTime     string       `json:"start_time"`
	EndTime       string       `json:"end_time"`
	DurationMs    int64        `json:"duration_ms"`
}

var resultStatuses = map[string]domain.RecordStatus{
	"running":   domain.RecordStatusRunning,
	"success":   domain.RecordStatusSuccess,
	"failed":    domain.RecordStatusFailed,
	"timeout":   domain.RecordStatusTimeout,
	"cancelled": domain.RecordStatusCancelled,
}

func (h *AgentHandler) Report(c *fiber.Ctx) error {
	var req ReportRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("report_body_parse_failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if req.InstanceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "instance_id is required"})
	}

	var reportedAt *time.Time
	if req.ReportTimestamp != "" {
		ts, err := time.Parse(time.RFC3339, req.ReportTimestamp)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid report_timestamp"})
		}
		reportedAt = &ts
	}

	recordID, err := h.instanceService.IngestReport(c.Context(), ports.ReportInput{
		AgentInstanceID: req.InstanceID,
		AgentType:       req.AgentType,
		AgentVersion:    req.AgentVersion,
		SystemInfo:      req.SystemInfo,
		NetworkInfo:     req.NetworkInfo,
		HardwareInfo:    req.HardwareInfo,
		RuntimeInfo:     req.RuntimeInfo,
		CustomMetrics:   req.CustomMetrics,
		Logs:            req.Logs,
		ReportTimestamp: reportedAt,
	})
	if err != nil {
		if errors.Is(err, services.ErrInstanceNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "instance not found"})
		}
		h.logger.Errorw("report_ingest_failed", "instance_id", req.InstanceID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"status": "success", "record_id": recordID})
}

func (h *AgentHandler) PullTasks(c *fiber.Ctx) error {
	agentInstanceID := c.Query("agent_instance_id")
	if agentInstanceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "agent_instance_id is required"})
	}
	wait := c.QueryBool("wait", false)
	timeout := c.QueryInt("timeout", 30)

	items, err := h.taskService.PullTasks(c.Context(), agentInstanceID, wait, timeout)
	if err != nil {
		if errors.Is(err, services.ErrInstanceNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "instance not found"})
		}
		h.logger.Errorw("task_pull_failed", "agent_instance_id", agentInstanceID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	if len(items) > 0 {
		h.logger.Infow("task_dispatch_ok", "agent_instance_id", agentInstanceID, "count", len(items))
	}
	return c.JSON(fiber.Map{
		"tasks":     items,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *AgentHandler) SubmitResult(c *fiber.Ctx) error {
	var req SubmitResultRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("result_body_parse_failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	status, ok := resultStatuses[req.Status]
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid status"})
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid start_time"})
	}
	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid end_time"})
	}

	err = h.taskService.SubmitResult(c.Context(), ports.SubmitResultInput{
		RecordID:        req.RecordID,
		AgentInstanceID: req.InstanceID,
		Status:          status,
		ResultCode:      req.ResultCode,
		ResultMessage:   req.ResultMessage,
		ResultData:      req.ResultData,
		ErrorMessage:    req.ErrorMessage,
		StartTime:       startTime,
		EndTime:         endTime,
		DurationMs:      req.DurationMs,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrRecordNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "record not found"})
		case errors.Is(err, services.ErrInstanceNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "instance not found"})
		case errors.Is(err, services.ErrInstanceMismatch):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "mismatch"})
		default:
			h.logger.Errorw("result_ingest_failed", "record_id", req.RecordID, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
	}

	return c.JSON(fiber.Map{"status": "success"})
}
