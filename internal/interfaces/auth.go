package interfaces

import (
	"context"

	"github.com/ternarybob/xhspub/internal/models"
)

// SessionStore persists per-account portal cookies between process runs
type SessionStore interface {
	// Load returns the saved session, or models.ErrNoSession when none exists
	Load(account string) (*models.Session, error)

	// Save replaces the account's session with the given cookies
	Save(account string, cookies []*models.Cookie) error

	// Delete removes the account's session. Deleting a missing session is not an error.
	Delete(account string) error

	// Info describes the stored session without exposing cookie values
	Info(account string) (*models.SessionInfo, error)
}

// LoginWaiter blocks until an operator confirms a manual login has finished
type LoginWaiter interface {
	WaitForLogin(ctx context.Context, account string) error
}

// LoginNotifier receives completion signals from outside the worker (HTTP, terminal)
type LoginNotifier interface {
	CompleteLogin(account string) bool
	Pending() []string
}
