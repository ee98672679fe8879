package publisher

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/interfaces"
	"github.com/ternarybob/xhspub/internal/models"
	"github.com/ternarybob/xhspub/internal/services/browser"
)

// BrowserRunner hands a freshly acquired page to fn and releases the browser afterwards
type BrowserRunner interface {
	Run(ctx context.Context, fn func(ctx context.Context, page browser.Page) error) error
}

// PageAuthenticator brings a page to an authenticated state for an account
type PageAuthenticator interface {
	Authenticate(ctx context.Context, page browser.Page, account string) (*browser.AuthResult, error)
}

// Service runs one publish job: precondition check, browser, authentication, state machine
type Service struct {
	browser BrowserRunner
	authn   PageAuthenticator
	machine *StateMachine
	logger  arbor.ILogger
}

var _ interfaces.Publisher = (*Service)(nil)

// NewService creates a publisher service
func NewService(runner BrowserRunner, authn PageAuthenticator, machine *StateMachine, logger arbor.ILogger) *Service {
	return &Service{
		browser: runner,
		authn:   authn,
		machine: machine,
		logger:  logger,
	}
}

// Publish runs job to Done or Failed. Precondition failures are reported before a browser is launched.
func (s *Service) Publish(ctx context.Context, job *models.PublishJob, observe interfaces.StateObserver) (models.PublishState, error) {
	if observe == nil {
		observe = func(models.PublishState) {}
	}
	logger := s.logger.WithCorrelationId(job.TaskID)

	if err := CheckPreconditions(job); err != nil {
		logger.Error().Err(err).Str("task_id", job.TaskID).Msg("Publish precondition failed")
		observe(models.StateFailed)
		return models.StateFailed, err
	}

	startTime := time.Now()
	var last models.PublishState

	err := s.browser.Run(ctx, func(ctx context.Context, page browser.Page) error {
		result, err := s.authn.Authenticate(ctx, page, job.Account)
		if err != nil {
			return err
		}
		logger.Debug().
			Str("task_id", job.TaskID).
			Bool("session_reused", result.Reused).
			Bool("manual_login", result.ManualLogin).
			Msg("Page authenticated")

		_, err = s.machine.Run(ctx, page, job, func(state models.PublishState) {
			last = state
			observe(state)
		})
		return err
	})

	if err != nil {
		if last != models.StateFailed {
			observe(models.StateFailed)
		}
		return models.StateFailed, err
	}

	logger.Info().
		Str("task_id", job.TaskID).
		Str("account", job.Account).
		Dur("duration", time.Since(startTime)).
		Msg("Publish attempt completed")
	return last, nil
}
