package ports

import (
	"context"
	"time"

	"github.com/monihub/monihub/internal/domain"
)

type InstanceService interface {
	CreateInstance(ctx context.Context, input CreateInstanceInput) (*domain.Instance, error)
	GetInstances(ctx context.Context) ([]domain.Instance, error)
	GetInstanceByID(ctx context.Context, id uint) (*domain.Instance, error)
	IngestReport(ctx context.Context, input ReportInput) (recordID uint, err error)
	MarkStaleOffline(ctx context.Context, now time.Time) (int64, error)
	PurgeOldReports(ctx context.Context, now time.Time) (int64, error)
}

type CreateInstanceInput struct {
	Name            string
	AgentInstanceID string
}

type ReportInput struct {
	AgentInstanceID string
	AgentType       string
	AgentVersion    string
	SystemInfo      domain.JSONB
	NetworkInfo     domain.JSONB
	HardwareInfo    domain.JSONB
	RuntimeInfo     domain.JSONB
	CustomMetrics   domain.JSONB
	Logs            domain.JSONBArray
	ReportTimestamp *time.Time
}

type TaskService interface {
	CreateTask(ctx context.Context, input CreateTaskInput) (*domain.Task, []domain.TaskRecord, error)
	// PullTasks hands out waiting records for the given agent, long-polling up
	// to the clamped timeout when wait is set. Items come back sorted by
	// priority descending.
	PullTasks(ctx context.Context, agentInstanceID string, wait bool, timeoutSeconds int) ([]TaskDispatchItem, error)
	SubmitResult(ctx context.Context, input SubmitResultInput) error
	// GetTask resolves soft-deleted tasks too, so records stay explainable
	// after their parent is removed.
	GetTask(ctx context.Context, id uint) (*domain.Task, error)
	DeleteTask(ctx context.Context, id uint) error
	RetryRecord(ctx context.Context, recordID uint) (*domain.TaskRecord, error)
	CancelRecord(ctx context.Context, recordID uint) (*domain.TaskRecord, error)
	GetRecords(ctx context.Context, instanceID uint, limit int) ([]domain.TaskRecord, error)
}

type CreateTaskInput struct {
	TaskType        domain.TaskType
	TaskContent     domain.JSONB
	TargetInstances []uint
	TimeoutSeconds  int
	Priority        int
	RetryCount      int
	ApplicationID   uint
}

type TaskDispatchItem struct {
	TaskID         uint            `json:"task_id"`
	RecordID       uint            `json:"record_id"`
	TaskType       domain.TaskType `json:"task_type"`
	TaskContent    domain.JSONB    `json:"task_content"`
	TimeoutSeconds int             `json:"timeout_seconds"`
	Priority       int             `json:"priority"`
}

type SubmitResultInput struct {
	RecordID        uint
	AgentInstanceID string
	Status          domain.RecordStatus
	ResultCode      int
	ResultMessage   string
	ResultData      domain.JSONB
	ErrorMessage    string
	StartTime       time.Time
	EndTime         time.Time
	DurationMs      int64
}

type UploadService interface {
	Init(filename string) (uploadID string, err error)
	SaveChunk(uploadID string, chunkIndex int, data []byte) error
	Complete(uploadID string) (path string, err error)
}
