package publisher_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/models"
	"github.com/ternarybob/xhspub/internal/services/browser"
	"github.com/ternarybob/xhspub/internal/services/browser/browsertest"
	"github.com/ternarybob/xhspub/internal/services/publisher"
)

type fakeRunner struct {
	page     *browsertest.FakePage
	runs     int
	released int
	err      error
}

func (r *fakeRunner) Run(ctx context.Context, fn func(ctx context.Context, page browser.Page) error) error {
	r.runs++
	defer func() { r.released++ }()
	if r.err != nil {
		return r.err
	}
	return fn(ctx, r.page)
}

type fakeAuthenticator struct {
	accounts []string
	err      error
}

func (a *fakeAuthenticator) Authenticate(ctx context.Context, page browser.Page, account string) (*browser.AuthResult, error) {
	a.accounts = append(a.accounts, account)
	if a.err != nil {
		return nil, a.err
	}
	return &browser.AuthResult{Reused: true}, nil
}

func newService(runner *fakeRunner, authn *fakeAuthenticator) *publisher.Service {
	return publisher.NewService(runner, authn, newMachine(), arbor.NewNoOpLogger())
}

func TestService_Publish(t *testing.T) {
	runner := &fakeRunner{page: newPortalPage()}
	authn := &fakeAuthenticator{}

	var states []models.PublishState
	final, err := newService(runner, authn).Publish(context.Background(), newJob(t, "a"), func(s models.PublishState) {
		states = append(states, s)
	})

	require.NoError(t, err)
	assert.Equal(t, models.StateDone, final)
	assert.Equal(t, []string{"alice"}, authn.accounts)
	assert.Equal(t, 1, runner.runs)
	assert.Equal(t, 1, runner.released)
	assert.Equal(t, models.StateDone, states[len(states)-1])
}

func TestService_PreconditionSkipsBrowser(t *testing.T) {
	runner := &fakeRunner{page: newPortalPage()}
	job := newJob(t)
	job.VideoPath = "/does/not/exist.mp4"

	var states []models.PublishState
	final, err := newService(runner, &fakeAuthenticator{}).Publish(context.Background(), job, func(s models.PublishState) {
		states = append(states, s)
	})

	assert.ErrorIs(t, err, models.ErrPreconditionFailure)
	assert.Equal(t, models.StateFailed, final)
	assert.Equal(t, []models.PublishState{models.StateFailed}, states)
	assert.Zero(t, runner.runs, "browser must not be launched")
}

func TestService_LaunchAndAuthFailures(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
		authn  *fakeAuthenticator
		want   error
	}{
		{
			name:   "launch failure",
			runner: &fakeRunner{err: errors.Join(models.ErrAutomation, errors.New("chrome not found"))},
			authn:  &fakeAuthenticator{},
			want:   models.ErrAutomation,
		},
		{
			name:   "login timeout",
			runner: &fakeRunner{page: newPortalPage()},
			authn:  &fakeAuthenticator{err: models.ErrAuthenticationRequired},
			want:   models.ErrAuthenticationRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var states []models.PublishState
			final, err := newService(tt.runner, tt.authn).Publish(context.Background(), newJob(t), func(s models.PublishState) {
				states = append(states, s)
			})

			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, models.StateFailed, final)
			assert.Equal(t, []models.PublishState{models.StateFailed}, states)
			assert.Equal(t, 1, tt.runner.released)
		})
	}
}

func TestService_StateFailureObservedOnce(t *testing.T) {
	page := newPortalPage()
	page.Fail("SetFiles", errors.New("detached"))
	runner := &fakeRunner{page: page}

	failed := 0
	_, err := newService(runner, &fakeAuthenticator{}).Publish(context.Background(), newJob(t), func(s models.PublishState) {
		if s == models.StateFailed {
			failed++
		}
	})

	assert.ErrorIs(t, err, models.ErrAutomation)
	assert.Equal(t, 1, failed)
}
