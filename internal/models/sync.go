package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncStatus represents the status of a sync run
type SyncStatus string

const (
	SyncStatusPending   SyncStatus = "PENDING"
	SyncStatusRunning   SyncStatus = "RUNNING"
	SyncStatusCompleted SyncStatus = "COMPLETED"
	SyncStatusFailed    SyncStatus = "FAILED"
	SyncStatusCancelled SyncStatus = "CANCELLED"
)

// TriggerType represents what triggered the sync
type TriggerType string

const (
	TriggerManual    TriggerType = "MANUAL"
	TriggerScheduled TriggerType = "SCHEDULED"
)

// SyncRun is one bulk-export ingestion for one shop. Progress counters live
// on the run row, keyed by run id, so concurrent runs for different shops
// never see each other's numbers.
type SyncRun struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Shop string    `gorm:"type:varchar(255);not null;index:idx_sync_runs_shop;index:idx_sync_runs_shop_status" json:"shop"`

	Status SyncStatus `gorm:"type:varchar(50);not null;default:'PENDING';index:idx_sync_runs_shop_status" json:"status"`

	// Progress
	TotalRecords     int `gorm:"default:0" json:"totalRecords"`
	ProcessedRecords int `gorm:"default:0" json:"processedRecords"`
	FailedRecords    int `gorm:"default:0" json:"failedRecords"`
	SkippedRecords   int `gorm:"default:0" json:"skippedRecords"`

	// Remote bulk operation
	BulkOperationID string `gorm:"type:varchar(255)" json:"bulkOperationId,omitempty"`

	// Error tracking
	ErrorMessage string `gorm:"type:text" json:"errorMessage,omitempty"`

	TriggeredBy TriggerType `gorm:"type:varchar(50);default:'MANUAL'" json:"triggeredBy"`

	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`

	Logs []SyncLog `gorm:"foreignKey:SyncRunID" json:"logs,omitempty"`
}

func (SyncRun) TableName() string {
	return "sync_runs"
}

// IsTerminal reports whether the run has finished, successfully or not.
func (r *SyncRun) IsTerminal() bool {
	return r.Status == SyncStatusCompleted || r.Status == SyncStatusFailed || r.Status == SyncStatusCancelled
}

// LogLevel represents the severity level of a sync log
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// SyncLog records a per-line or per-order event during a run, so skipped
// lines and failed refund fetches stay inspectable after the fact.
type SyncLog struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SyncRunID uuid.UUID `gorm:"type:uuid;not null;index:idx_sync_logs_run" json:"syncRunId"`
	Level     LogLevel  `gorm:"type:varchar(20);not null;default:'info'" json:"level"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	Data      JSONB     `gorm:"type:jsonb" json:"data,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (SyncLog) TableName() string {
	return "sync_logs"
}

func (l *SyncLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
