package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/xhspub/internal/models"
)

// TaskStorage persists task history for the status API
type TaskStorage interface {
	SaveTask(ctx context.Context, record *models.TaskRecord) error
	GetTask(ctx context.Context, id string) (*models.TaskRecord, error)
	// ListTasks returns the newest records first; limit <= 0 means no limit
	ListTasks(ctx context.Context, status models.TaskStatus, limit int) ([]*models.TaskRecord, error)
	// DeleteFinishedBefore removes terminal records finished before cutoff
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
	// MarkInterrupted fails records left queued or running by a previous process
	MarkInterrupted(ctx context.Context, reason string) (int, error)
	Close() error
}

// StorageManager owns the database handle behind the storage interfaces
type StorageManager interface {
	TaskStorage() TaskStorage
	Close() error
}
