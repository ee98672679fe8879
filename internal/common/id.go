package common

import (
	"github.com/google/uuid"
)

// NewTaskID generates a unique publish task ID with the "task_" prefix
// Format: task_<uuid>
func NewTaskID() string {
	return "task_" + uuid.New().String()
}
