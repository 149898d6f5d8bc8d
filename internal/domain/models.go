package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ==================== ENUMS ====================

type OnlineStatus string

const (
	OnlineStatusOnline  OnlineStatus = "online"
	OnlineStatusOffline OnlineStatus = "offline"
)

type InstanceStatus string

const (
	InstanceStatusActive   InstanceStatus = "active"
	InstanceStatusDisabled InstanceStatus = "disabled"
)

type TaskType string

const (
	TaskTypeShellExec     TaskType = "shell_exec"
	TaskTypeRunCode       TaskType = "run_code"
	TaskTypeFileManager   TaskType = "file_manager"
	TaskTypeCustomCommand TaskType = "custom_command"
	TaskTypeHTTPRequest   TaskType = "http_request"
)

type RecordStatus string

const (
	RecordStatusPending    RecordStatus = "pending"
	RecordStatusDispatched RecordStatus = "dispatched"
	RecordStatusRunning    RecordStatus = "running"
	RecordStatusSuccess    RecordStatus = "success"
	RecordStatusFailed     RecordStatus = "failed"
	RecordStatusTimeout    RecordStatus = "timeout"
	RecordStatusCancelled  RecordStatus = "cancelled"
)

// Terminal reports whether a record in this status can no longer advance.
func (s RecordStatus) Terminal() bool {
	switch s {
	case RecordStatusSuccess, RecordStatusFailed, RecordStatusTimeout, RecordStatusCancelled:
		return true
	}
	return false
}

// ==================== JSONB TYPES ====================

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return errors.New("failed to scan JSONB: invalid type")
		}
	}
	return json.Unmarshal(bytes, j)
}

// JSONBArray stores an ordered JSON list (agent log batches and similar).
type JSONBArray []interface{}

func (j JSONBArray) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONBArray) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return errors.New("failed to scan JSONBArray: invalid type")
		}
	}
	return json.Unmarshal(bytes, j)
}

// ==================== ENTITIES ====================

// Instance is the control-plane record of one agent-bearing host.
type Instance struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Name            string `gorm:"size:255" json:"name"`
	AgentInstanceID string `gorm:"size:64;uniqueIndex;not null" json:"agent_instance_id"`

	Hostname  string `gorm:"size:255" json:"hostname"`
	PrimaryIP string `gorm:"size:45" json:"primary_ip"`
	PublicIP  string `gorm:"size:45" json:"public_ip"`
	MAC       string `gorm:"size:64" json:"mac"`
	OSType    string `gorm:"size:50" json:"os_type"`
	OSVersion string `gorm:"size:100" json:"os_version"`

	AgentType    string `gorm:"size:50" json:"agent_type"`
	AgentVersion string `gorm:"size:50" json:"agent_version"`

	// Latest hardware snapshot from the most recent report.
	Hardware      JSONB  `gorm:"type:jsonb" json:"hardware"`
	UptimeSeconds uint64 `json:"uptime_seconds"`

	FirstReportAt *time.Time `json:"first_report_at,omitempty"`
	LastReportAt  *time.Time `gorm:"index" json:"last_report_at,omitempty"`
	ReportCount   int64      `gorm:"default:0" json:"report_count"`

	OnlineStatus OnlineStatus   `gorm:"size:20;not null;default:'offline'" json:"online_status"`
	Status       InstanceStatus `gorm:"size:20;not null;default:'active'" json:"status"`
	OfflineAt    *time.Time     `json:"offline_at,omitempty"`
}

// InstanceRecord is one immutable telemetry report row.
type InstanceRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	InstanceID uint `gorm:"not null;index" json:"instance_id"`

	AgentType       string     `gorm:"size:50" json:"agent_type"`
	AgentVersion    string     `gorm:"size:50" json:"agent_version"`
	SystemInfo      JSONB      `gorm:"type:jsonb" json:"system_info"`
	NetworkInfo     JSONB      `gorm:"type:jsonb" json:"network_info"`
	HardwareInfo    JSONB      `gorm:"type:jsonb" json:"hardware_info"`
	RuntimeInfo     JSONB      `gorm:"type:jsonb" json:"runtime_info"`
	CustomMetrics   JSONB      `gorm:"type:jsonb" json:"custom_metrics,omitempty"`
	Logs            JSONBArray `gorm:"type:jsonb" json:"logs,omitempty"`
	ReportTimestamp *time.Time `json:"report_timestamp,omitempty"`
}

// Task is a unit of work fanned out to one or more instances. Immutable
// after creation except for soft delete.
type Task struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	TaskType       TaskType `gorm:"size:30;not null" json:"task_type"`
	TaskContent    JSONB    `gorm:"type:jsonb" json:"task_content"`
	TimeoutSeconds int      `gorm:"default:300" json:"timeout_seconds"`
	Priority       int      `gorm:"default:0" json:"priority"`
	RetryCount     int      `gorm:"default:0" json:"retry_count"`
	ApplicationID  uint     `gorm:"index" json:"application_id"`

	Records []TaskRecord `gorm:"foreignKey:TaskID" json:"records,omitempty"`
}

// TaskRecord is the per-instance execution of one Task.
type TaskRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TaskID     uint `gorm:"not null;index" json:"task_id"`
	InstanceID uint `gorm:"not null;index:idx_task_records_instance_status" json:"instance_id"`

	Status RecordStatus `gorm:"size:20;not null;default:'pending';index:idx_task_records_instance_status" json:"status"`

	DispatchTime *time.Time `json:"dispatch_time,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	DurationMs   int64      `json:"duration_ms"`

	ResultCode    int    `json:"result_code"`
	ResultMessage string `gorm:"size:255" json:"result_message"`
	ResultData    JSONB  `gorm:"type:jsonb" json:"result_data,omitempty"`
	ErrorMessage  string `gorm:"type:text" json:"error_message,omitempty"`
	RetryAttempt  int    `gorm:"default:0" json:"retry_attempt"`
}
