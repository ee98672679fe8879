package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/common"
	"github.com/ternarybob/xhspub/internal/interfaces"
)

// ErrJobNotFound is returned by TriggerJob for unknown job names
var ErrJobNotFound = errors.New("job not found")

type job struct {
	name        string
	schedule    string
	description string
	run         interfaces.JobFunc
	entryID     cron.EntryID

	running   bool
	lastRun   time.Time
	lastError string
}

// Service runs named housekeeping jobs on cron schedules. A job never overlaps itself:
// a tick or trigger that arrives while it is still running is skipped.
type Service struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[string]*job
	started bool

	// ctx is handed to every run and cancelled by Stop
	ctx    context.Context
	cancel context.CancelFunc

	logger arbor.ILogger
}

func NewService(logger arbor.ILogger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cron:   cron.New(),
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// RegisterJob adds a job on a 5-field cron schedule. Names are unique.
func (s *Service) RegisterJob(name, schedule, description string, run interfaces.JobFunc) error {
	if run == nil {
		return fmt.Errorf("job %s: nil job func", name)
	}
	if err := common.ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	entryID, err := s.cron.AddFunc(schedule, func() { _ = s.execute(s.ctx, name) })
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.jobs[name] = &job{
		name:        name,
		schedule:    schedule,
		description: description,
		run:         run,
		entryID:     entryID,
	}

	s.logger.Debug().
		Str("job", name).
		Str("schedule", schedule).
		Msg("Housekeeping job registered")
	return nil
}

// TriggerJob runs a job now on the caller's goroutine. The run stops early if either
// ctx or the scheduler is stopped.
func (s *Service) TriggerJob(ctx context.Context, name string) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	return s.execute(runCtx, name)
}

func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("scheduler already started")
	}
	if s.ctx.Err() != nil {
		return errors.New("scheduler was stopped")
	}
	s.cron.Start()
	s.started = true

	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
	return nil
}

// Stop cancels in-flight runs and waits for them to return. It is safe to call twice.
func (s *Service) Stop() error {
	s.cancel()

	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	if started {
		<-s.cron.Stop().Done()
		s.logger.Info().Msg("Scheduler stopped")
	}
	return nil
}

// GetAllJobStatuses returns a snapshot of every job keyed by name
func (s *Service) GetAllJobStatuses() map[string]*interfaces.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make(map[string]*interfaces.JobStatus, len(s.jobs))
	for name, j := range s.jobs {
		status := &interfaces.JobStatus{
			Name:        j.name,
			Schedule:    j.schedule,
			Description: j.description,
			IsRunning:   j.running,
			LastError:   j.lastError,
		}
		if !j.lastRun.IsZero() {
			lastRun := j.lastRun
			status.LastRun = &lastRun
		}
		if next := s.cron.Entry(j.entryID).Next; !next.IsZero() {
			status.NextRun = &next
		}
		statuses[name] = status
	}
	return statuses
}

func (s *Service) JobNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) execute(ctx context.Context, name string) error {
	s.mu.Lock()
	j, exists := s.jobs[name]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if j.running {
		s.mu.Unlock()
		s.logger.Debug().Str("job", name).Msg("Job still running, skipping")
		return nil
	}
	j.running = true
	j.lastRun = time.Now()
	s.mu.Unlock()

	start := time.Now()
	err := common.CallSafely(func() error { return j.run(ctx) })

	s.mu.Lock()
	j.running = false
	j.lastError = ""
	if err != nil {
		j.lastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Str("job", name).Msg("Housekeeping job failed")
		return err
	}
	s.logger.Debug().
		Str("job", name).
		Dur("duration", time.Since(start)).
		Msg("Housekeeping job finished")
	return nil
}
