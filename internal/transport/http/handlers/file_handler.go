package handlers

import (
	"errors"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/monihub/monihub/internal/core/ports"
	"github.com/monihub/monihub/internal/core/services"
	"github.com/monihub/monihub/internal/infrastructure/logger"
)

// FileHandler serves the chunked upload endpoints used by agent file tasks.
type FileHandler struct {
	uploadService ports.UploadService
	logger        *logger.Logger
}

func NewFileHandler(uploadService ports.UploadService, logger *logger.Logger) *FileHandler {
	return &FileHandler{uploadService: uploadService, logger: logger}
}

type UploadInitRequest struct {
	Filename string `json:"filename"`
}

type UploadCompleteRequest struct {
	UploadID string `json:"upload_id"`
}

func (h *FileHandler) Init(c *fiber.Ctx) error {
	var req UploadInitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	uploadID, err := h.uploadService.Init(req.Filename)
	if err != nil {
		h.logger.Errorw("upload_init_failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"upload_id": uploadID})
}

func (h *FileHandler) Chunk(c *fiber.Ctx) error {
	uploadID := c.FormValue("upload_id")
	if uploadID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "upload_id is required"})
	}
	chunkIndex, err := strconv.Atoi(c.FormValue("chunk_index"))
	if err != nil || chunkIndex < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid chunk_index"})
	}

	fileHeader, err := c.FormFile("chunk")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "chunk file is required"})
	}
	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "failed to open chunk"})
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "failed to read chunk"})
	}

	if err := h.uploadService.SaveChunk(uploadID, chunkIndex, data); err != nil {
		if errors.Is(err, services.ErrUploadNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "upload session not found"})
		}
		h.logger.Errorw("upload_chunk_failed", "upload_id", uploadID, "chunk_index", chunkIndex, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "success"})
}

func (h *FileHandler) Complete(c *fiber.Ctx) error {
	var req UploadCompleteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.UploadID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "upload_id is required"})
	}

	path, err := h.uploadService.Complete(req.UploadID)
	if err != nil {
		if errors.Is(err, services.ErrUploadNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "upload session not found"})
		}
		h.logger.Errorw("upload_complete_failed", "upload_id", req.UploadID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "success", "path": path})
}
