package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/common"
	"github.com/ternarybob/xhspub/internal/interfaces"
	"github.com/ternarybob/xhspub/internal/models"
	"golang.org/x/time/rate"
)

// Config controls how the worker resolves and paces tasks
type Config struct {
	DefaultDelay time.Duration  // publish time used when a request has none, relative to execution
	MinInterval  time.Duration  // minimum spacing between consecutive publish attempts
	Location     *time.Location // zone of scheduled publish times
	Now          func() time.Time
}

// ConfigFromCommon maps the publish section of the application config
func ConfigFromCommon(config *common.Config) (Config, error) {
	loc, err := config.Location()
	if err != nil {
		return Config{}, err
	}
	return Config{
		DefaultDelay: config.Publish.DefaultDelay.Duration,
		MinInterval:  config.Publish.MinInterval.Duration,
		Location:     loc,
	}, nil
}

// Service is the FIFO of publish tasks and the single worker that drains it.
// Enqueue may be called from any goroutine; tasks run strictly one at a time in submission order.
type Service struct {
	publisher interfaces.Publisher
	stager    interfaces.Stager
	storage   interfaces.TaskStorage
	events    interfaces.EventService
	status    interfaces.StatusService
	config    Config
	limiter   *rate.Limiter
	logger    arbor.ILogger

	enqueueMu sync.Mutex
	mu        sync.Mutex
	pending   []*models.PublishTask
	active    *models.TaskRecord
	sequence  uint64
	running   bool
	closed    bool
	notify    chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	unsubs    []func()
}

var _ interfaces.PublishQueue = (*Service)(nil)

// NewService creates the queue. storage, events and status may be nil.
func NewService(
	publisher interfaces.Publisher,
	stager interfaces.Stager,
	storage interfaces.TaskStorage,
	events interfaces.EventService,
	status interfaces.StatusService,
	config Config,
	logger arbor.ILogger,
) *Service {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Location == nil {
		config.Location = time.Local
	}

	limit := rate.Inf
	if config.MinInterval > 0 {
		limit = rate.Every(config.MinInterval)
	}

	return &Service{
		publisher: publisher,
		stager:    stager,
		storage:   storage,
		events:    events,
		status:    status,
		config:    config,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger,
		notify:    make(chan struct{}, 1),
	}
}

// Enqueue appends req to the FIFO and returns its position without waiting for the worker.
// A missing request ID or creation time is filled in.
func (s *Service) Enqueue(ctx context.Context, req *models.PublishRequest) (*interfaces.EnqueueResult, error) {
	if req == nil {
		return nil, fmt.Errorf("publish request is required")
	}
	if req.ID == "" {
		req.ID = common.NewTaskID()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.config.Now()
	}

	// The queued record and event must land before the worker can see the task,
	// otherwise they can overwrite or follow the task's terminal record.
	s.enqueueMu.Lock()
	defer s.enqueueMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, models.ErrQueueStopped
	}
	s.sequence++
	task := &models.PublishTask{
		Request:    req,
		Sequence:   s.sequence,
		EnqueuedAt: s.config.Now(),
	}
	depth := len(s.pending) + 1
	task.Position = depth
	s.mu.Unlock()

	s.saveRecord(ctx, newTaskRecord(task, depth))

	s.logger.Info().
		Str("task_id", req.ID).
		Str("account", req.Account).
		Str("title", req.Content.Title).
		Int("position", depth).
		Msg("Publish task queued")

	s.publish(ctx, interfaces.EventTaskQueued, map[string]interface{}{
		"task_id":     req.ID,
		"account":     req.Account,
		"title":       req.Content.Title,
		"position":    depth,
		"queue_depth": depth,
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, models.ErrQueueStopped
	}
	s.pending = append(s.pending, task)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}

	return &interfaces.EnqueueResult{TaskID: req.ID, Position: depth, QueueDepth: depth}, nil
}

// Snapshot returns the active task and the tasks still waiting, in order
func (s *Service) Snapshot() models.QueueSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := models.QueueSnapshot{
		Depth:   len(s.pending),
		Pending: make([]*models.TaskRecord, 0, len(s.pending)),
		Running: s.running,
	}
	if s.active != nil {
		active := *s.active
		snapshot.Active = &active
	}
	for i, task := range s.pending {
		snapshot.Pending = append(snapshot.Pending, newTaskRecord(task, i+1))
	}
	return snapshot
}

// Start launches the worker. It returns immediately; the worker runs until Stop or ctx ends.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.ErrQueueStopped
	}
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("queue already running")
	}
	workerCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	s.subscribeLoginEvents()
	s.setStatus(models.WorkerIdle, nil)
	s.logger.Info().Dur("min_interval", s.config.MinInterval).Msg("Publish worker started")

	go s.run(workerCtx)
	return nil
}

// Stop cancels the worker, including any attempt in flight, and waits for it to exit.
// Tasks still pending are dropped and the queue refuses further requests.
func (s *Service) Stop() error {
	s.mu.Lock()
	s.closed = true
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	cancel()
	<-done
	for _, unsubscribe := range unsubs {
		unsubscribe()
	}

	s.mu.Lock()
	dropped := len(s.pending)
	s.pending = nil
	s.running = false
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warn().Int("dropped", dropped).Msg("Publish worker stopped with tasks still queued")
	}
	s.setStatus(models.WorkerStopped, nil)
	s.logger.Info().Msg("Publish worker stopped")
	return nil
}

// run is the worker loop: take the head of the FIFO, process it to completion, repeat
func (s *Service) run(ctx context.Context) {
	defer close(s.done)
	for {
		task := s.next(ctx)
		if task == nil {
			return
		}
		s.process(ctx, task)
	}
}

// next blocks until a task is available or ctx ends
func (s *Service) next(ctx context.Context) *models.PublishTask {
	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			task := s.pending[0]
			s.pending[0] = nil
			s.pending = s.pending[1:]
			s.active = newTaskRecord(task, task.Position)
			s.mu.Unlock()
			return task
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-s.notify:
		}
	}
}

func (s *Service) process(ctx context.Context, task *models.PublishTask) {
	logger := s.logger.WithCorrelationId(task.ID())
	req := task.Request
	startTime := s.config.Now()
	task.StartedAt = startTime
	task.Attempts++

	record := s.updateActive(func(r *models.TaskRecord) {
		r.Status = models.TaskStatusRunning
		r.StartedAt = startTime
	})
	s.saveRecord(ctx, record)

	s.setStatus(models.WorkerPublishing, map[string]interface{}{
		"task_id": req.ID,
		"account": req.Account,
	})
	s.publish(ctx, interfaces.EventTaskStarted, map[string]interface{}{
		"task_id": req.ID,
		"account": req.Account,
		"title":   req.Content.Title,
	})
	logger.Info().Str("task_id", req.ID).Str("account", req.Account).Msg("Publish task started")

	err := common.CallSafely(func() error {
		return s.execute(ctx, task, logger)
	})
	task.LastError = err

	finishedAt := s.config.Now()
	record = s.updateActive(func(r *models.TaskRecord) {
		r.FinishedAt = finishedAt
		var stateErr *models.StateError
		if errors.As(err, &stateErr) && stateErr.State != "" {
			r.LastState = stateErr.State
		}
		if err != nil {
			r.Status = models.TaskStatusFailed
			r.ErrorKind = models.ErrorKind(err)
			r.Error = err.Error()
		} else {
			r.Status = models.TaskStatusSucceeded
		}
	})

	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()

	s.saveRecord(ctx, record)

	if err != nil {
		event := logger.Error().
			Err(err).
			Str("task_id", req.ID).
			Str("account", req.Account).
			Str("state", string(record.LastState)).
			Str("error_kind", record.ErrorKind).
			Dur("duration", finishedAt.Sub(startTime))
		var panicErr *common.PanicError
		if errors.As(err, &panicErr) {
			event = event.Str("stack", panicErr.Stack)
		}
		event.Msg("Publish task failed")

		s.publish(ctx, interfaces.EventTaskFailed, map[string]interface{}{
			"task_id":    req.ID,
			"account":    req.Account,
			"state":      string(record.LastState),
			"error":      record.Error,
			"error_kind": record.ErrorKind,
		})
	} else {
		logger.Info().
			Str("task_id", req.ID).
			Str("account", req.Account).
			Str("scheduled_for", record.ScheduledFor).
			Dur("duration", finishedAt.Sub(startTime)).
			Msg("Publish task completed")

		s.publish(ctx, interfaces.EventTaskCompleted, map[string]interface{}{
			"task_id":       req.ID,
			"account":       req.Account,
			"state":         string(record.LastState),
			"scheduled_for": record.ScheduledFor,
		})
	}

	if ctx.Err() == nil {
		s.setStatus(models.WorkerIdle, map[string]interface{}{
			"last_task_id": req.ID,
			"last_result":  string(record.Status),
			"last_error":   record.ErrorKind,
		})
	}
}

// execute stages the video, resolves the publish time and hands the job to the publisher.
// The staged artifact is removed on every path out, including panics.
func (s *Service) execute(ctx context.Context, task *models.PublishTask, logger arbor.ILogger) error {
	req := task.Request

	artifact, err := s.stager.Stage(ctx, req)
	if err != nil {
		return err
	}
	defer func() {
		if cleanupErr := s.stager.Cleanup(artifact); cleanupErr != nil {
			logger.Warn().Err(cleanupErr).Str("task_id", req.ID).Str("path", artifact.Path).Msg("Failed to clean up staged video")
		}
	}()

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for publish slot: %w", err)
	}

	publishAt := req.PublishAt
	if publishAt.IsZero() {
		publishAt = common.DefaultPublishTime(s.config.Now(), s.config.DefaultDelay, s.config.Location)
	}
	scheduledFor := common.FormatPublishTime(publishAt.In(s.config.Location))
	s.updateActive(func(r *models.TaskRecord) {
		r.ScheduledFor = scheduledFor
	})

	job := &models.PublishJob{
		TaskID:    req.ID,
		Account:   req.Account,
		Content:   req.Content,
		Extra:     req.Extra,
		Tags:      req.Tags,
		VideoPath: artifact.Path,
		PublishAt: publishAt.In(s.config.Location),
	}

	_, err = s.publisher.Publish(ctx, job, func(state models.PublishState) {
		s.observe(ctx, logger, req.ID, state)
	})
	return err
}

// observe records and broadcasts each state the publisher enters
func (s *Service) observe(ctx context.Context, logger arbor.ILogger, taskID string, state models.PublishState) {
	if state != models.StateFailed {
		s.updateActive(func(r *models.TaskRecord) {
			r.LastState = state
		})
	}
	logger.Info().Str("task_id", taskID).Str("state", string(state)).Msg("Publish state entered")
	s.publish(ctx, interfaces.EventTaskState, map[string]interface{}{
		"task_id": taskID,
		"state":   string(state),
	})
}

// updateActive mutates the active record under the lock and returns a copy
func (s *Service) updateActive(fn func(r *models.TaskRecord)) *models.TaskRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	fn(s.active)
	record := *s.active
	return &record
}

func (s *Service) saveRecord(ctx context.Context, record *models.TaskRecord) {
	if s.storage == nil || record == nil {
		return
	}
	if err := s.storage.SaveTask(context.WithoutCancel(ctx), record); err != nil {
		s.logger.Warn().Err(err).Str("task_id", record.ID).Msg("Failed to save task record")
	}
}

func (s *Service) publish(ctx context.Context, eventType interfaces.EventType, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish event")
	}
}

func (s *Service) setStatus(state models.WorkerState, metadata map[string]interface{}) {
	if s.status != nil {
		s.status.SetState(state, metadata)
	}
}

// subscribeLoginEvents mirrors a pending manual login into the worker state
func (s *Service) subscribeLoginEvents() {
	if s.events == nil || s.status == nil {
		return
	}

	transition := func(from, to models.WorkerState) interfaces.EventHandler {
		return func(ctx context.Context, event interfaces.Event) error {
			s.mu.Lock()
			active := s.active
			var taskID string
			if active != nil {
				taskID = active.ID
			}
			s.mu.Unlock()

			if active == nil || s.status.GetState() != from {
				return nil
			}
			metadata := map[string]interface{}{"task_id": taskID}
			if account, ok := event.Payload["account"]; ok {
				metadata["account"] = account
			}
			s.status.SetState(to, metadata)
			return nil
		}
	}

	var unsubs []func()
	for eventType, handler := range map[interfaces.EventType]interfaces.EventHandler{
		interfaces.EventLoginRequired:  transition(models.WorkerPublishing, models.WorkerAwaitingLogin),
		interfaces.EventLoginCompleted: transition(models.WorkerAwaitingLogin, models.WorkerPublishing),
	} {
		unsubscribe, err := s.events.Subscribe(eventType, handler)
		if err != nil {
			s.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to subscribe to login events")
			continue
		}
		unsubs = append(unsubs, unsubscribe)
	}

	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsubs...)
	s.mu.Unlock()
}

func newTaskRecord(task *models.PublishTask, position int) *models.TaskRecord {
	req := task.Request
	record := &models.TaskRecord{
		ID:         req.ID,
		Account:    req.Account,
		Title:      req.Content.Title,
		Status:     models.TaskStatusQueued,
		Position:   position,
		Sequence:   task.Sequence,
		EnqueuedAt: task.EnqueuedAt,
	}
	if req.HasPublishTime() {
		record.ScheduledFor = common.FormatPublishTime(req.PublishAt)
	}
	return record
}
