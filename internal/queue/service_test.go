package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/common"
	"github.com/ternarybob/xhspub/internal/interfaces"
	"github.com/ternarybob/xhspub/internal/models"
	"github.com/ternarybob/xhspub/internal/services/events"
	"github.com/ternarybob/xhspub/internal/services/staging"
	"github.com/ternarybob/xhspub/internal/services/status"
)

var happyPath = []models.PublishState{
	models.StateUploading,
	models.StateFillingMetadata,
	models.StateTaggingContent,
	models.StateSchedulingTime,
	models.StateSubmitting,
	models.StateDone,
}

// recordingPublisher walks the happy path and records what it was asked to publish
type recordingPublisher struct {
	mu       sync.Mutex
	jobs     []*models.PublishJob
	order    []string
	spans    [][2]time.Time
	inFlight int32
	overlap  atomic.Bool
	hold     time.Duration
	failFor  map[string]error
	panicFor map[string]bool
	videoOK  map[string]bool
}

func (p *recordingPublisher) Publish(ctx context.Context, job *models.PublishJob, observe interfaces.StateObserver) (models.PublishState, error) {
	if atomic.AddInt32(&p.inFlight, 1) > 1 {
		p.overlap.Store(true)
	}
	defer atomic.AddInt32(&p.inFlight, -1)

	start := time.Now()
	_, statErr := os.Stat(job.VideoPath)

	p.mu.Lock()
	p.jobs = append(p.jobs, job)
	p.order = append(p.order, job.TaskID)
	if p.videoOK == nil {
		p.videoOK = make(map[string]bool)
	}
	p.videoOK[job.TaskID] = statErr == nil
	p.mu.Unlock()

	if p.panicFor[job.TaskID] {
		panic("driver exploded")
	}

	time.Sleep(p.hold)

	p.mu.Lock()
	p.spans = append(p.spans, [2]time.Time{start, time.Now()})
	p.mu.Unlock()

	if err := p.failFor[job.TaskID]; err != nil {
		observe(models.StateUploading)
		observe(models.StateFailed)
		return models.StateFailed, err
	}
	for _, state := range happyPath {
		observe(state)
	}
	return models.StateDone, nil
}

func (p *recordingPublisher) Order() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

// fakeStager hands out a per-task file and records cleanups
type fakeStager struct {
	dir     string
	mu      sync.Mutex
	cleaned []string
	failFor map[string]error
}

func (s *fakeStager) Stage(ctx context.Context, req *models.PublishRequest) (*models.Artifact, error) {
	if err := s.failFor[req.ID]; err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir, req.ID+".mp4")
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		return nil, err
	}
	return &models.Artifact{TaskID: req.ID, Path: path, Staged: true}, nil
}

func (s *fakeStager) Cleanup(artifact *models.Artifact) error {
	s.mu.Lock()
	s.cleaned = append(s.cleaned, artifact.TaskID)
	s.mu.Unlock()
	return os.Remove(artifact.Path)
}

func (s *fakeStager) Cleaned() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cleaned...)
}

// memStorage keeps task records in a map
type memStorage struct {
	mu      sync.Mutex
	records map[string]models.TaskRecord
}

func newMemStorage() *memStorage {
	return &memStorage{records: make(map[string]models.TaskRecord)}
}

func (m *memStorage) SaveTask(ctx context.Context, record *models.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = *record
	return nil
}

func (m *memStorage) GetTask(ctx context.Context, id string) (*models.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &record, nil
}

func (m *memStorage) ListTasks(ctx context.Context, status models.TaskStatus, limit int) ([]*models.TaskRecord, error) {
	return nil, nil
}

func (m *memStorage) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func (m *memStorage) MarkInterrupted(ctx context.Context, reason string) (int, error) {
	return 0, nil
}

func (m *memStorage) Close() error { return nil }

func (m *memStorage) status(id string) models.TaskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id].Status
}

func newTestQueue(t *testing.T, publisher interfaces.Publisher, stager interfaces.Stager, storage interfaces.TaskStorage) *Service {
	t.Helper()
	q := NewService(publisher, stager, storage, nil, nil, Config{DefaultDelay: 5 * time.Minute}, arbor.NewNoOpLogger())
	t.Cleanup(func() { _ = q.Stop() })
	return q
}

func request(id string) *models.PublishRequest {
	return &models.PublishRequest{
		ID:      id,
		Account: "xiaohongshu",
		Content: models.Content{Title: "title " + id, Script: "script"},
		Tags:    []string{"a"},
	}
}

func waitFinished(t *testing.T, storage *memStorage, ids ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, id := range ids {
			if !storage.status(id).IsTerminal() {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEnqueue_ReturnsPositionWithoutWorker(t *testing.T) {
	q := newTestQueue(t, &recordingPublisher{}, &fakeStager{dir: t.TempDir()}, nil)

	for i, id := range []string{"t1", "t2", "t3"} {
		result, err := q.Enqueue(context.Background(), request(id))
		require.NoError(t, err)
		assert.Equal(t, id, result.TaskID)
		assert.Equal(t, i+1, result.Position)
		assert.Equal(t, i+1, result.QueueDepth)
	}

	snapshot := q.Snapshot()
	assert.Equal(t, 3, snapshot.Depth)
	assert.False(t, snapshot.Running)
	assert.Nil(t, snapshot.Active)
	require.Len(t, snapshot.Pending, 3)
	assert.Equal(t, "t1", snapshot.Pending[0].ID)
	assert.Equal(t, models.TaskStatusQueued, snapshot.Pending[2].Status)
}

func TestEnqueue_AssignsID(t *testing.T) {
	q := newTestQueue(t, &recordingPublisher{}, &fakeStager{dir: t.TempDir()}, nil)

	req := request("")
	result, err := q.Enqueue(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, result.TaskID)
	assert.Equal(t, req.ID, result.TaskID)
	assert.False(t, req.CreatedAt.IsZero())

	_, err = q.Enqueue(context.Background(), nil)
	assert.Error(t, err)
}

// slowQueuedStorage delays writes of queued records so a fast worker would finish first
type slowQueuedStorage struct {
	*memStorage
	delay time.Duration
}

func (s *slowQueuedStorage) SaveTask(ctx context.Context, record *models.TaskRecord) error {
	if record.Status == models.TaskStatusQueued {
		time.Sleep(s.delay)
	}
	return s.memStorage.SaveTask(ctx, record)
}

func TestEnqueue_QueuedRecordNeverOverwritesOutcome(t *testing.T) {
	logger := arbor.NewNoOpLogger()
	eventService := events.NewService(logger)
	t.Cleanup(func() { _ = eventService.Close() })

	var mu sync.Mutex
	var seen []interfaces.EventType
	_, err := eventService.SubscribeMany([]interfaces.EventType{
		interfaces.EventTaskQueued,
		interfaces.EventTaskStarted,
		interfaces.EventTaskFailed,
	}, func(ctx context.Context, event interfaces.Event) error {
		mu.Lock()
		seen = append(seen, event.Type)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	storage := &slowQueuedStorage{memStorage: newMemStorage(), delay: 20 * time.Millisecond}
	stager := &fakeStager{
		dir:     t.TempDir(),
		failFor: map[string]error{"fast_fail": models.NewStateError(models.StateUploading, models.ErrPreconditionFailure, "", errors.New("missing"))},
	}
	q := NewService(&recordingPublisher{}, stager, storage, eventService, nil, Config{}, logger)
	t.Cleanup(func() { _ = q.Stop() })
	require.NoError(t, q.Start(context.Background()))

	_, err = q.Enqueue(context.Background(), request("fast_fail"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snapshot := q.Snapshot()
		return snapshot.Active == nil && snapshot.Depth == 0 && storage.status("fast_fail").IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	// Give any late write a chance to land before checking the stored outcome
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, models.TaskStatusFailed, storage.status("fast_fail"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []interfaces.EventType{
		interfaces.EventTaskQueued,
		interfaces.EventTaskStarted,
		interfaces.EventTaskFailed,
	}, seen)
}

func TestWorker_FIFOOrderAndNoOverlap(t *testing.T) {
	publisher := &recordingPublisher{hold: 20 * time.Millisecond}
	stager := &fakeStager{dir: t.TempDir()}
	storage := newMemStorage()
	q := newTestQueue(t, publisher, stager, storage)

	require.NoError(t, q.Start(context.Background()))

	ids := []string{"t1", "t2", "t3", "t4", "t5", "t6"}
	for _, id := range ids {
		_, err := q.Enqueue(context.Background(), request(id))
		require.NoError(t, err)
	}
	waitFinished(t, storage, ids...)

	assert.Equal(t, ids, publisher.Order())
	assert.False(t, publisher.overlap.Load(), "two publish attempts ran at once")

	publisher.mu.Lock()
	spans := append([][2]time.Time(nil), publisher.spans...)
	publisher.mu.Unlock()
	for i := 1; i < len(spans); i++ {
		assert.False(t, spans[i][0].Before(spans[i-1][1]), "attempt %d started before attempt %d finished", i, i-1)
	}
	assert.ElementsMatch(t, ids, stager.Cleaned())
}

func TestWorker_ConcurrentProducersStaySerial(t *testing.T) {
	publisher := &recordingPublisher{hold: 5 * time.Millisecond}
	storage := newMemStorage()
	q := newTestQueue(t, publisher, &fakeStager{dir: t.TempDir()}, storage)
	require.NoError(t, q.Start(context.Background()))

	var wg sync.WaitGroup
	var ids []string
	var idsMu sync.Mutex
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := q.Enqueue(context.Background(), request(""))
			if assert.NoError(t, err) {
				idsMu.Lock()
				ids = append(ids, result.TaskID)
				idsMu.Unlock()
			}
		}()
	}
	wg.Wait()
	waitFinished(t, storage, ids...)

	assert.Len(t, publisher.Order(), 10)
	assert.False(t, publisher.overlap.Load())
}

func TestWorker_FailuresAndPanicsDoNotStopTheLoop(t *testing.T) {
	publisher := &recordingPublisher{
		failFor: map[string]error{
			"fails": models.NewStateError(models.StateSubmitting, models.ErrSubmitTimeout, "submit_button", nil),
		},
		panicFor: map[string]bool{"panics": true},
	}
	stager := &fakeStager{
		dir:     t.TempDir(),
		failFor: map[string]error{"no_video": models.NewStateError(models.StateUploading, models.ErrPreconditionFailure, "", errors.New("missing"))},
	}
	storage := newMemStorage()
	q := newTestQueue(t, publisher, stager, storage)
	require.NoError(t, q.Start(context.Background()))

	ids := []string{"fails", "panics", "no_video", "ok"}
	for _, id := range ids {
		_, err := q.Enqueue(context.Background(), request(id))
		require.NoError(t, err)
	}
	waitFinished(t, storage, ids...)

	fails, _ := storage.GetTask(context.Background(), "fails")
	assert.Equal(t, models.TaskStatusFailed, fails.Status)
	assert.Equal(t, "submit_timeout", fails.ErrorKind)
	assert.Equal(t, models.StateSubmitting, fails.LastState)

	panics, _ := storage.GetTask(context.Background(), "panics")
	assert.Equal(t, models.TaskStatusFailed, panics.Status)
	assert.Equal(t, "unexpected", panics.ErrorKind)
	assert.Contains(t, panics.Error, "driver exploded")

	noVideo, _ := storage.GetTask(context.Background(), "no_video")
	assert.Equal(t, "precondition_failure", noVideo.ErrorKind)

	ok, _ := storage.GetTask(context.Background(), "ok")
	assert.Equal(t, models.TaskStatusSucceeded, ok.Status)
	assert.Equal(t, models.StateDone, ok.LastState)

	// Cleanup ran for every task that got a staged video, including the panicking one
	assert.ElementsMatch(t, []string{"fails", "panics", "ok"}, stager.Cleaned())
	assert.Equal(t, []string{"fails", "panics", "ok"}, publisher.Order())
}

func TestWorker_DefaultPublishTime(t *testing.T) {
	publisher := &recordingPublisher{}
	storage := newMemStorage()
	q := newTestQueue(t, publisher, &fakeStager{dir: t.TempDir()}, storage)
	require.NoError(t, q.Start(context.Background()))

	explicit := request("explicit")
	explicit.PublishAt = time.Date(2030, 1, 2, 15, 4, 0, 0, time.Local)

	_, err := q.Enqueue(context.Background(), request("default"))
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), explicit)
	require.NoError(t, err)
	waitFinished(t, storage, "default", "explicit")

	publisher.mu.Lock()
	jobs := append([]*models.PublishJob(nil), publisher.jobs...)
	publisher.mu.Unlock()
	require.Len(t, jobs, 2)

	expected := time.Now().Add(5 * time.Minute).Truncate(time.Minute)
	assert.WithinDuration(t, expected, jobs[0].PublishAt, time.Minute)
	assert.Equal(t, 0, jobs[0].PublishAt.Second())
	assert.True(t, jobs[1].PublishAt.Equal(explicit.PublishAt))

	record, _ := storage.GetTask(context.Background(), "explicit")
	assert.Equal(t, "2030-01-02 15:04", record.ScheduledFor)
}

func TestWorker_MinIntervalPacesAttempts(t *testing.T) {
	publisher := &recordingPublisher{}
	storage := newMemStorage()
	q := NewService(publisher, &fakeStager{dir: t.TempDir()}, storage, nil, nil,
		Config{MinInterval: 150 * time.Millisecond}, arbor.NewNoOpLogger())
	t.Cleanup(func() { _ = q.Stop() })
	require.NoError(t, q.Start(context.Background()))

	_, err := q.Enqueue(context.Background(), request("first"))
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), request("second"))
	require.NoError(t, err)
	waitFinished(t, storage, "first", "second")

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	require.Len(t, publisher.spans, 2)
	gap := publisher.spans[1][0].Sub(publisher.spans[0][0])
	assert.GreaterOrEqual(t, gap, 100*time.Millisecond)
}

func TestLifecycle(t *testing.T) {
	q := NewService(&recordingPublisher{}, &fakeStager{dir: t.TempDir()}, nil, nil, nil, Config{}, arbor.NewNoOpLogger())

	require.NoError(t, q.Start(context.Background()))
	assert.Error(t, q.Start(context.Background()), "double start")
	assert.True(t, q.Snapshot().Running)

	require.NoError(t, q.Stop())
	require.NoError(t, q.Stop())
	assert.False(t, q.Snapshot().Running)

	_, err := q.Enqueue(context.Background(), request("late"))
	assert.ErrorIs(t, err, models.ErrQueueStopped)
	assert.ErrorIs(t, q.Start(context.Background()), models.ErrQueueStopped)
}

// End to end through the real staging, event and status services:
// one request with the default local video goes Uploading through Done and its staged copy is removed.
func TestEndToEnd_DefaultVideo(t *testing.T) {
	logger := arbor.NewNoOpLogger()
	defaultVideo := filepath.Join(t.TempDir(), "video.mp4")
	require.NoError(t, os.WriteFile(defaultVideo, []byte("video"), 0o644))

	stager, err := staging.NewService(filepath.Join(t.TempDir(), "staging"), defaultVideo, nil, logger)
	require.NoError(t, err)

	eventService := events.NewService(logger)
	statusService := status.NewService(eventService, logger)

	var statesMu sync.Mutex
	var states []models.PublishState
	completed := make(chan struct{})
	_, err = eventService.Subscribe(interfaces.EventTaskState, func(ctx context.Context, event interfaces.Event) error {
		statesMu.Lock()
		defer statesMu.Unlock()
		states = append(states, models.PublishState(event.Payload["state"].(string)))
		return nil
	})
	require.NoError(t, err)
	_, err = eventService.Subscribe(interfaces.EventTaskCompleted, func(ctx context.Context, event interfaces.Event) error {
		close(completed)
		return nil
	})
	require.NoError(t, err)

	publisher := &recordingPublisher{}
	storage := newMemStorage()
	q := NewService(publisher, stager, storage, eventService, statusService,
		Config{DefaultDelay: 5 * time.Minute}, logger)
	t.Cleanup(func() { _ = q.Stop() })

	req := &models.PublishRequest{
		Account: "xiaohongshu",
		Content: models.Content{Title: "测试"},
		Tags:    common.ParseTags("#a #b"),
	}
	result, err := q.Enqueue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, result.QueueDepth)

	require.NoError(t, q.Start(context.Background()))

	select {
	case <-completed:
	case <-time.After(5 * time.Second):
		t.Fatal("task never completed")
	}
	waitFinished(t, storage, result.TaskID)

	publisher.mu.Lock()
	require.Len(t, publisher.jobs, 1)
	job := publisher.jobs[0]
	assert.True(t, publisher.videoOK[job.TaskID], "staged video must exist while publishing")
	publisher.mu.Unlock()

	assert.Equal(t, []string{"a", "b"}, job.Tags)
	assert.Equal(t, "测试", job.Content.Title)
	assert.True(t, filepath.IsAbs(job.VideoPath))
	assert.NotEqual(t, defaultVideo, job.VideoPath)
	assert.NoFileExists(t, job.VideoPath, "staged video must be removed after the task")
	assert.FileExists(t, defaultVideo)

	require.Eventually(t, func() bool {
		statesMu.Lock()
		defer statesMu.Unlock()
		return len(states) == len(happyPath)
	}, 2*time.Second, 10*time.Millisecond)
	statesMu.Lock()
	assert.ElementsMatch(t, happyPath, states)
	statesMu.Unlock()

	require.Eventually(t, func() bool {
		return statusService.GetState() == models.WorkerIdle
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorker_AwaitingLoginState(t *testing.T) {
	logger := arbor.NewNoOpLogger()
	eventService := events.NewService(logger)
	statusService := status.NewService(eventService, logger)

	loginSeen := make(chan models.WorkerState, 1)
	release := make(chan struct{})
	publisher := publisherFunc(func(ctx context.Context, job *models.PublishJob, observe interfaces.StateObserver) (models.PublishState, error) {
		_ = eventService.PublishSync(ctx, interfaces.Event{Type: interfaces.EventLoginRequired, Payload: map[string]interface{}{"account": job.Account}})
		loginSeen <- statusService.GetState()
		<-release
		_ = eventService.PublishSync(ctx, interfaces.Event{Type: interfaces.EventLoginCompleted, Payload: map[string]interface{}{"account": job.Account}})
		return models.StateDone, nil
	})

	storage := newMemStorage()
	q := NewService(publisher, &fakeStager{dir: t.TempDir()}, storage, eventService, statusService, Config{}, logger)
	t.Cleanup(func() { _ = q.Stop() })
	require.NoError(t, q.Start(context.Background()))

	_, err := q.Enqueue(context.Background(), request("login"))
	require.NoError(t, err)

	select {
	case state := <-loginSeen:
		assert.Equal(t, models.WorkerAwaitingLogin, state)
	case <-time.After(5 * time.Second):
		t.Fatal("publisher never ran")
	}
	close(release)
	waitFinished(t, storage, "login")
}

type publisherFunc func(ctx context.Context, job *models.PublishJob, observe interfaces.StateObserver) (models.PublishState, error)

func (f publisherFunc) Publish(ctx context.Context, job *models.PublishJob, observe interfaces.StateObserver) (models.PublishState, error) {
	return f(ctx, job, observe)
}
