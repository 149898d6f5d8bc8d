package http

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/monihub/monihub/internal/config"
	"github.com/monihub/monihub/internal/core/services"
	"github.com/monihub/monihub/internal/infrastructure/db"
	"github.com/monihub/monihub/internal/infrastructure/logger"
	"github.com/monihub/monihub/internal/transport/http/handlers"
	httpmw "github.com/monihub/monihub/internal/transport/http/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type RouterConfig struct {
	DB     *gorm.DB
	Logger *logger.Logger
	Config *config.Config
}

// SetupRoutes wires repositories, services and handlers, and returns the
// sweeper so main can start its background loops.
func SetupRoutes(app *fiber.App, cfg RouterConfig) *services.SweeperService {
	// Repositories
	instanceRepo := db.NewInstanceRepository(cfg.DB, cfg.Logger)
	instanceRecordRepo := db.NewInstanceRecordRepository(cfg.DB, cfg.Logger)
	taskRepo := db.NewTaskRepository(cfg.DB, cfg.Logger)

	// Services
	instanceService := services.NewInstanceService(services.InstanceServiceConfig{
		Repository: instanceRepo,
		RecordRepo: instanceRecordRepo,
		Logger:     cfg.Logger,
	})
	taskService := services.NewTaskService(services.TaskServiceConfig{
		TaskRepo:     taskRepo,
		InstanceRepo: instanceRepo,
		Logger:       cfg.Logger,
	})
	uploadService := services.NewUploadService(services.UploadServiceConfig{
		UploadDir: cfg.Config.Files.UploadDir,
		Logger:    cfg.Logger,
	})
	sweeperService := services.NewSweeperService(instanceService, cfg.Logger)

	// Handlers
	agentHandler := handlers.NewAgentHandler(instanceService, taskService, cfg.Logger)
	instanceHandler := handlers.NewInstanceHandler(instanceService, cfg.Logger)
	taskHandler := handlers.NewTaskHandler(taskService, cfg.Logger)
	fileHandler := handlers.NewFileHandler(uploadService, cfg.Logger)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Agent-facing open API
	open := app.Group("/api/open")
	open.Post("/instances/report", agentHandler.Report)
	open.Get("/instances/tasks", agentHandler.PullTasks)
	open.Post("/instances/tasks/result", agentHandler.SubmitResult)

	// Chunked file uploads (agent file tasks push archives here)
	files := app.Group("/api/files")
	files.Post("/upload/init", fileHandler.Init)
	files.Post("/upload/chunk", fileHandler.Chunk)
	files.Post("/upload/complete", fileHandler.Complete)

	// Operator API
	api := app.Group("/api/v1", httpmw.AdminAuth(cfg.Config))
	api.Post("/instances", instanceHandler.CreateInstance)
	api.Get("/instances", instanceHandler.GetInstances)
	api.Get("/instances/:id", instanceHandler.GetInstance)

	api.Post("/tasks", taskHandler.CreateTask)
	api.Get("/tasks/records", taskHandler.GetRecords)
	api.Post("/tasks/records/:id/retry", taskHandler.RetryRecord)
	api.Post("/tasks/records/:id/cancel", taskHandler.CancelRecord)
	api.Get("/tasks/:id", taskHandler.GetTask)
	api.Delete("/tasks/:id", taskHandler.DeleteTask)

	return sweeperService
}
