package publisher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/common"
	"github.com/ternarybob/xhspub/internal/interfaces"
	"github.com/ternarybob/xhspub/internal/models"
	"github.com/ternarybob/xhspub/internal/services/browser"
	"github.com/ternarybob/xhspub/internal/services/selectors"
)

// Timings bounds every wait the state machine performs
type Timings struct {
	ElementWait      time.Duration // how long a control may take to appear
	PollInterval     time.Duration // how often controls are re-probed while waiting
	StepDelay        time.Duration // pause after typing into a field
	TagSuggestWait   time.Duration // how long the tag suggestion list may take to open
	ScheduleSettle   time.Duration // pause after switching to scheduled mode
	SubmitTimeout    time.Duration // how long the submit control may take to become clickable
	PostSubmitSettle time.Duration // pause after submitting before the browser is released
}

// TimingsFromConfig maps browser config onto state machine timings
func TimingsFromConfig(config common.BrowserConfig) Timings {
	return Timings{
		ElementWait:      config.ElementWait.Duration,
		PollInterval:     250 * time.Millisecond,
		StepDelay:        time.Second,
		TagSuggestWait:   config.TagSuggestWait.Duration,
		ScheduleSettle:   config.ScheduleSettle.Duration,
		SubmitTimeout:    config.SubmitTimeout.Duration,
		PostSubmitSettle: config.PostSubmitSettle.Duration,
	}
}

// StateMachine drives one publish attempt on an authenticated page:
// Uploading -> FillingMetadata -> TaggingContent -> SchedulingTime -> Submitting -> Done.
// It never retries within a state; any failure ends the attempt in Failed.
type StateMachine struct {
	probes     browser.ProbeSource
	publishURL string
	timings    Timings
	logger     arbor.ILogger
}

// NewStateMachine creates a state machine
func NewStateMachine(probes browser.ProbeSource, publishURL string, timings Timings, logger arbor.ILogger) *StateMachine {
	if timings.PollInterval <= 0 {
		timings.PollInterval = 250 * time.Millisecond
	}
	return &StateMachine{
		probes:     probes,
		publishURL: publishURL,
		timings:    timings,
		logger:     logger,
	}
}

// ComposeBody joins title, script and supplementary text with newlines, skipping empty parts
func ComposeBody(content models.Content, extra string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{content.Title, content.Script, extra} {
		if strings.TrimSpace(part) != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "\n")
}

// CheckPreconditions validates a job without touching the browser
func CheckPreconditions(job *models.PublishJob) error {
	if job.VideoPath == "" {
		return models.NewStateError(models.StateUploading, models.ErrPreconditionFailure, "", errors.New("no video artifact"))
	}
	if !filepath.IsAbs(job.VideoPath) {
		return models.NewStateError(models.StateUploading, models.ErrPreconditionFailure, "", fmt.Errorf("video path %q is not absolute", job.VideoPath))
	}
	info, err := os.Stat(job.VideoPath)
	if err != nil {
		return models.NewStateError(models.StateUploading, models.ErrPreconditionFailure, "", fmt.Errorf("video artifact: %w", err))
	}
	if !info.Mode().IsRegular() {
		return models.NewStateError(models.StateUploading, models.ErrPreconditionFailure, "", fmt.Errorf("video artifact %s is not a regular file", job.VideoPath))
	}
	if job.PublishAt.IsZero() {
		return models.NewStateError(models.StateSchedulingTime, models.ErrPreconditionFailure, "", errors.New("publish time was not resolved"))
	}
	return nil
}

// run is the per-attempt state carried between steps
type run struct {
	m       *StateMachine
	page    browser.Page
	job     *models.PublishJob
	logger  arbor.ILogger
	observe interfaces.StateObserver
	state   models.PublishState
	body    selectors.Probe
}

// Run executes the job on page and returns the last state entered (Done or Failed)
func (m *StateMachine) Run(ctx context.Context, page browser.Page, job *models.PublishJob, observe interfaces.StateObserver) (models.PublishState, error) {
	if observe == nil {
		observe = func(models.PublishState) {}
	}
	r := &run{
		m:       m,
		page:    page,
		job:     job,
		logger:  m.logger.WithCorrelationId(job.TaskID),
		observe: observe,
	}

	if err := CheckPreconditions(job); err != nil {
		return r.fail(err)
	}

	steps := []struct {
		state models.PublishState
		fn    func(context.Context) error
	}{
		{models.StateUploading, r.upload},
		{models.StateFillingMetadata, r.fillMetadata},
		{models.StateTaggingContent, r.tag},
		{models.StateSchedulingTime, r.schedule},
		{models.StateSubmitting, r.submit},
	}

	for _, step := range steps {
		r.enter(step.state)
		startTime := time.Now()
		if err := step.fn(ctx); err != nil {
			return r.fail(r.scope(err))
		}
		r.logger.Debug().
			Str("state", string(step.state)).
			Dur("duration", time.Since(startTime)).
			Msg("Publish state completed")
	}

	r.enter(models.StateDone)
	return models.StateDone, nil
}

func (r *run) enter(state models.PublishState) {
	r.state = state
	r.logger.Info().Str("task_id", r.job.TaskID).Str("state", string(state)).Msg("Publish state entered")
	r.observe(state)
}

func (r *run) fail(err error) (models.PublishState, error) {
	var stateErr *models.StateError
	failedIn := r.state
	if errors.As(err, &stateErr) {
		failedIn = stateErr.State
	}
	r.logger.Error().
		Err(err).
		Str("task_id", r.job.TaskID).
		Str("failed_in", string(failedIn)).
		Str("error_kind", models.ErrorKind(err)).
		Msg("Publish attempt failed")
	r.enter(models.StateFailed)
	return models.StateFailed, err
}

// scope attaches the current state to errors that do not carry one yet
func (r *run) scope(err error) error {
	var stateErr *models.StateError
	if errors.As(err, &stateErr) {
		return err
	}
	return models.NewStateError(r.state, models.ErrAutomation, "", err)
}

// action wraps a failed page interaction on a located control
func (r *run) action(probe selectors.Probe, what string, err error) error {
	if err == nil {
		return nil
	}
	return models.NewStateError(r.state, models.ErrAutomation, probe.String(), fmt.Errorf("%s: %w", what, err))
}

// locate waits up to ElementWait for any probe of key, trying probes in priority order each round
func (r *run) locate(ctx context.Context, key selectors.Key) (selectors.Probe, error) {
	probes := r.m.probes.Probes(key)
	if len(probes) == 0 {
		return selectors.Probe{}, models.NewStateError(r.state, models.ErrElementNotFound, string(key), errors.New("no probes configured"))
	}

	probe, found, err := r.poll(ctx, probes, r.m.timings.ElementWait, r.page.Present)
	if err != nil {
		return selectors.Probe{}, err
	}
	if !found {
		return selectors.Probe{}, models.NewStateError(r.state, models.ErrElementNotFound, string(key), fmt.Errorf("none of %d probes matched within %s", len(probes), r.m.timings.ElementWait))
	}

	r.logger.Debug().Str("key", string(key)).Str("probe", probe.Name).Msg("Control located")
	return probe, nil
}

// poll re-runs check over probes until one passes or wait elapses
func (r *run) poll(ctx context.Context, probes []selectors.Probe, wait time.Duration, check func(context.Context, selectors.Probe) (bool, error)) (selectors.Probe, bool, error) {
	deadline := time.Now().Add(wait)
	for {
		for _, probe := range probes {
			ok, err := check(ctx, probe)
			if err != nil {
				return selectors.Probe{}, false, models.NewStateError(r.state, models.ErrAutomation, probe.String(), err)
			}
			if ok {
				return probe, true, nil
			}
		}
		if !time.Now().Before(deadline) {
			return selectors.Probe{}, false, nil
		}
		if err := sleep(ctx, r.m.timings.PollInterval); err != nil {
			return selectors.Probe{}, false, err
		}
	}
}

func (r *run) upload(ctx context.Context) error {
	if r.m.publishURL != "" {
		if err := r.page.Navigate(ctx, r.m.publishURL); err != nil {
			return fmt.Errorf("navigate to publish page: %w", err)
		}
	}

	input, err := r.locate(ctx, selectors.UploadInput)
	if err != nil {
		return err
	}
	return r.action(input, "upload video", r.page.SetFiles(ctx, input, r.job.VideoPath))
}

func (r *run) fillMetadata(ctx context.Context) error {
	title, err := r.locate(ctx, selectors.TitleInput)
	if err != nil {
		return err
	}
	if err := r.action(title, "clear title", r.page.Clear(ctx, title)); err != nil {
		return err
	}
	if err := r.action(title, "type title", r.page.Type(ctx, title, r.job.Content.Title)); err != nil {
		return err
	}
	if err := sleep(ctx, r.m.timings.StepDelay); err != nil {
		return err
	}

	body, err := r.locate(ctx, selectors.BodyEditor)
	if err != nil {
		return err
	}
	r.body = body
	if err := r.action(body, "clear body", r.page.Clear(ctx, body)); err != nil {
		return err
	}
	return r.action(body, "type body", r.page.Append(ctx, body, ComposeBody(r.job.Content, r.job.Extra)))
}

// tag appends each tag as its own committed token, in request order
func (r *run) tag(ctx context.Context) error {
	if len(r.job.Tags) == 0 {
		return nil
	}
	body := r.body

	if err := r.action(body, "separate tags", r.page.Append(ctx, body, "\n")); err != nil {
		return err
	}

	for i, tag := range r.job.Tags {
		if err := r.action(body, "refocus body", r.page.Focus(ctx, body)); err != nil {
			return err
		}
		if err := r.action(body, "type tag", r.page.Append(ctx, body, "#"+tag)); err != nil {
			return err
		}
		if err := r.awaitSuggestions(ctx); err != nil {
			return err
		}
		if err := r.action(body, "commit tag", r.page.Press(ctx, browser.KeyEnter)); err != nil {
			return err
		}
		if err := r.action(body, "separate tag", r.page.Press(ctx, browser.KeySpace)); err != nil {
			return err
		}
		r.logger.Debug().Int("index", i).Str("tag", tag).Msg("Tag committed")
	}
	return nil
}

// awaitSuggestions gives the topic list up to TagSuggestWait to open so Enter commits
// the tag as a topic. A list that never opens is not an error: Enter still ends the token.
func (r *run) awaitSuggestions(ctx context.Context) error {
	probes := r.m.probes.Probes(selectors.TagSuggestion)
	if len(probes) == 0 {
		return sleep(ctx, r.m.timings.TagSuggestWait)
	}
	probe, found, err := r.poll(ctx, probes, r.m.timings.TagSuggestWait, r.page.Present)
	if err != nil {
		return err
	}
	if found {
		r.logger.Debug().Str("probe", probe.Name).Msg("Tag suggestions shown")
	} else {
		r.logger.Debug().Dur("waited", r.m.timings.TagSuggestWait).Msg("No tag suggestions, committing typed tag")
	}
	return nil
}

func (r *run) schedule(ctx context.Context) error {
	toggle, err := r.locate(ctx, selectors.ScheduleToggle)
	if err != nil {
		return err
	}
	// the control swallows pointer events, so its handler is invoked directly
	if err := r.action(toggle, "enable scheduled mode", r.page.DispatchClick(ctx, toggle)); err != nil {
		return err
	}
	if err := sleep(ctx, r.m.timings.ScheduleSettle); err != nil {
		return err
	}

	input, err := r.locate(ctx, selectors.ScheduleInput)
	if err != nil {
		return err
	}
	if err := r.action(input, "remove readonly", r.page.RemoveAttribute(ctx, input, "readonly")); err != nil {
		return err
	}
	if err := r.action(input, "clear schedule time", r.page.Clear(ctx, input)); err != nil {
		return err
	}
	formatted := common.FormatPublishTime(r.job.PublishAt)
	if err := r.action(input, "type schedule time", r.page.Type(ctx, input, formatted)); err != nil {
		return err
	}
	r.logger.Info().Str("task_id", r.job.TaskID).Str("publish_at", formatted).Msg("Schedule time set")
	return sleep(ctx, r.m.timings.StepDelay)
}

func (r *run) submit(ctx context.Context) error {
	probes := r.m.probes.Probes(selectors.SubmitButton)
	button, found, err := r.poll(ctx, probes, r.m.timings.SubmitTimeout, r.page.Interactable)
	if err != nil {
		return err
	}
	if !found {
		return models.NewStateError(r.state, models.ErrSubmitTimeout, string(selectors.SubmitButton), fmt.Errorf("not clickable within %s", r.m.timings.SubmitTimeout))
	}

	if err := r.action(button, "click submit", r.page.Click(ctx, button)); err != nil {
		return err
	}
	return sleep(ctx, r.m.timings.PostSubmitSettle)
}

// sleep waits for d unless ctx ends first
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
