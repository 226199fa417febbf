package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"refund-insights-service/internal/models"
)

// SyncRepository handles database operations for sync runs
type SyncRepository struct {
	db *gorm.DB
}

// NewSyncRepository creates a new sync repository
func NewSyncRepository(db *gorm.DB) *SyncRepository {
	return &SyncRepository{db: db}
}

// CreateRun creates a new sync run
func (r *SyncRepository) CreateRun(ctx context.Context, run *models.SyncRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// GetRunByID retrieves a sync run by ID
func (r *SyncRepository) GetRunByID(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	var run models.SyncRun
	err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// GetLatestRun retrieves the most recent run for a shop, if any
func (r *SyncRepository) GetLatestRun(ctx context.Context, shop string) (*models.SyncRun, error) {
	var run models.SyncRun
	err := r.db.WithContext(ctx).
		Where("shop = ?", shop).
		Order("created_at DESC").
		First(&run).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

// GetActiveRun retrieves the pending or running run for a shop, if any.
// At most one run per shop is ever active.
func (r *SyncRepository) GetActiveRun(ctx context.Context, shop string) (*models.SyncRun, error) {
	var run models.SyncRun
	err := r.db.WithContext(ctx).
		Where("shop = ? AND status IN ?", shop, []models.SyncStatus{
			models.SyncStatusPending,
			models.SyncStatusRunning,
		}).
		Order("created_at DESC").
		First(&run).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

// ListRuns retrieves runs for a shop, newest first
func (r *SyncRepository) ListRuns(ctx context.Context, shop string, limit int) ([]models.SyncRun, error) {
	var runs []models.SyncRun
	query := r.db.WithContext(ctx).
		Where("shop = ?", shop).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&runs).Error
	return runs, err
}

// UpdateRunStatus transitions a run to the given status. Terminal statuses
// also stamp completed_at.
func (r *SyncRepository) UpdateRunStatus(ctx context.Context, id uuid.UUID, status models.SyncStatus, errorMessage string) error {
	updates := map[string]interface{}{
		"status":        status,
		"error_message": errorMessage,
		"updated_at":    time.Now(),
	}
	switch status {
	case models.SyncStatusRunning:
		now := time.Now()
		updates["started_at"] = &now
	case models.SyncStatusCompleted, models.SyncStatusFailed, models.SyncStatusCancelled:
		now := time.Now()
		updates["completed_at"] = &now
	}
	return r.db.WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// SetBulkOperationID records the remote bulk operation backing the run
func (r *SyncRepository) SetBulkOperationID(ctx context.Context, id uuid.UUID, operationID string) error {
	return r.db.WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("id = ?", id).
		Update("bulk_operation_id", operationID).Error
}

// UpdateProgress writes the run's counters
func (r *SyncRepository) UpdateProgress(ctx context.Context, id uuid.UUID, total, processed, failed, skipped int) error {
	return r.db.WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_records":     total,
			"processed_records": processed,
			"failed_records":    failed,
			"skipped_records":   skipped,
			"updated_at":        time.Now(),
		}).Error
}

// CreateLog creates a sync log entry
func (r *SyncRepository) CreateLog(ctx context.Context, log *models.SyncLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// GetRunLogs retrieves logs for a sync run, newest first
func (r *SyncRepository) GetRunLogs(ctx context.Context, runID uuid.UUID, level models.LogLevel, limit int) ([]models.SyncLog, error) {
	var logs []models.SyncLog
	query := r.db.WithContext(ctx).Where("sync_run_id = ?", runID)
	if level != "" {
		query = query.Where("level = ?", level)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Order("created_at DESC").Find(&logs).Error
	return logs, err
}
