package interfaces

import (
	"context"
	"time"
)

// JobStatus represents the current status of a scheduled housekeeping job
type JobStatus struct {
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	Description string     `json:"description"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	IsRunning   bool       `json:"is_running"`
	LastError   string     `json:"last_error,omitempty"`
}

// JobFunc is one run of a housekeeping job; ctx ends when the scheduler stops
type JobFunc func(ctx context.Context) error

// SchedulerService manages cron-based housekeeping
type SchedulerService interface {
	RegisterJob(name, schedule, description string, run JobFunc) error
	TriggerJob(ctx context.Context, name string) error
	GetAllJobStatuses() map[string]*JobStatus
	Start() error
	Stop() error
}
