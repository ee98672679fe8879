package browser

import (
	"context"

	"github.com/ternarybob/xhspub/internal/models"
	"github.com/ternarybob/xhspub/internal/services/selectors"
)

// Keys understood by Page.Press
const (
	KeyEnter = "\r"
	KeySpace = " "
)

// Page is the set of portal interactions the publish flow needs.
// Element operations address the first node matching probe and do not wait;
// callers that need a bounded wait poll Present or Interactable.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)

	ClearCookies(ctx context.Context) error
	// SetCookies replays cookies against pageURL as session cookies (expiry dropped)
	SetCookies(ctx context.Context, pageURL string, cookies []*models.Cookie) error
	Cookies(ctx context.Context) ([]*models.Cookie, error)

	Present(ctx context.Context, probe selectors.Probe) (bool, error)
	Interactable(ctx context.Context, probe selectors.Probe) (bool, error)

	SetFiles(ctx context.Context, probe selectors.Probe, paths ...string) error
	Focus(ctx context.Context, probe selectors.Probe) error
	Click(ctx context.Context, probe selectors.Probe) error
	// DispatchClick fires the element's click handler directly instead of simulating a pointer
	DispatchClick(ctx context.Context, probe selectors.Probe) error
	RemoveAttribute(ctx context.Context, probe selectors.Probe, name string) error
	// Clear empties an input or editor: value reset, select-all, delete
	Clear(ctx context.Context, probe selectors.Probe) error
	// Type focuses the element and types text at the caret
	Type(ctx context.Context, probe selectors.Probe, text string) error
	// Append focuses the element, moves the caret to the end and types text
	Append(ctx context.Context, probe selectors.Probe, text string) error
	// Press sends a key to whatever element currently has focus
	Press(ctx context.Context, key string) error
}
