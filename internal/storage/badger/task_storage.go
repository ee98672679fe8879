package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ErrTaskNotFound is returned by GetTask for unknown ids
var ErrTaskNotFound = errors.New("task not found")

// TaskStorage stores task records keyed by task id
type TaskStorage struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewTaskStorage creates a new TaskStorage instance
func NewTaskStorage(store *badgerhold.Store, logger arbor.ILogger) *TaskStorage {
	return &TaskStorage{store: store, logger: logger}
}

func (s *TaskStorage) SaveTask(ctx context.Context, record *models.TaskRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if err := s.store.Upsert(record.ID, record); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

func (s *TaskStorage) GetTask(ctx context.Context, id string) (*models.TaskRecord, error) {
	var record models.TaskRecord
	if err := s.store.Get(id, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &record, nil
}

func (s *TaskStorage) ListTasks(ctx context.Context, status models.TaskStatus, limit int) ([]*models.TaskRecord, error) {
	query := badgerhold.Where("ID").Ne("")
	if status != "" {
		query = badgerhold.Where("Status").Eq(status)
	}

	var records []models.TaskRecord
	if err := s.store.Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	// Sequence restarts with the process, EnqueuedAt does not
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].EnqueuedAt.After(records[j].EnqueuedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	result := make([]*models.TaskRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

func (s *TaskStorage) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var records []models.TaskRecord
	query := badgerhold.Where("Status").In(models.TaskStatusSucceeded, models.TaskStatusFailed).
		And("FinishedAt").Lt(cutoff)
	if err := s.store.Find(&records, query); err != nil {
		return 0, fmt.Errorf("failed to find expired tasks: %w", err)
	}

	deleted := 0
	for _, record := range records {
		if err := s.store.Delete(record.ID, models.TaskRecord{}); err != nil {
			s.logger.Warn().Err(err).Str("task_id", record.ID).Msg("Failed to delete expired task")
			continue
		}
		deleted++
	}
	return deleted, nil
}

func (s *TaskStorage) MarkInterrupted(ctx context.Context, reason string) (int, error) {
	var records []models.TaskRecord
	query := badgerhold.Where("Status").In(models.TaskStatusQueued, models.TaskStatusRunning)
	if err := s.store.Find(&records, query); err != nil {
		return 0, fmt.Errorf("failed to find unfinished tasks: %w", err)
	}

	now := time.Now()
	for i := range records {
		records[i].Status = models.TaskStatusFailed
		records[i].ErrorKind = "interrupted"
		records[i].Error = reason
		records[i].FinishedAt = now
		if err := s.SaveTask(ctx, &records[i]); err != nil {
			return i, err
		}
	}
	return len(records), nil
}

// Close is a no-op; the Manager owns the database handle
func (s *TaskStorage) Close() error {
	return nil
}
