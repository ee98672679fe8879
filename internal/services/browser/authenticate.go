package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/common"
	"github.com/ternarybob/xhspub/internal/interfaces"
	"github.com/ternarybob/xhspub/internal/models"
	"github.com/ternarybob/xhspub/internal/services/selectors"
)

// ProbeSource supplies the current selector probes for a control
type ProbeSource interface {
	Probes(key selectors.Key) []selectors.Probe
}

// AuthResult describes how a page became authenticated
type AuthResult struct {
	Reused      bool // stored session accepted by the probe page
	Invalidated bool // stored session was rejected and deleted
	ManualLogin bool // operator completed a manual login
	Cookies     int  // cookies replayed or captured
}

// Authenticator brings a fresh page to an authenticated state for one account
type Authenticator struct {
	store       interfaces.SessionStore
	waiter      interfaces.LoginWaiter
	probes      ProbeSource
	portal      common.PortalConfig
	settleDelay time.Duration
	logger      arbor.ILogger
}

// NewAuthenticator creates an Authenticator
func NewAuthenticator(store interfaces.SessionStore, waiter interfaces.LoginWaiter, probes ProbeSource, portal common.PortalConfig, settleDelay time.Duration, logger arbor.ILogger) *Authenticator {
	return &Authenticator{
		store:       store,
		waiter:      waiter,
		probes:      probes,
		portal:      portal,
		settleDelay: settleDelay,
		logger:      logger,
	}
}

// Authenticate replays the stored session if there is one and verifies it against the probe page.
// A rejected session is deleted before falling back to a manual login, which blocks until the
// operator confirms and then persists the captured cookies.
func (a *Authenticator) Authenticate(ctx context.Context, page Page, account string) (*AuthResult, error) {
	logger := a.logger.WithCorrelationId(account)
	result := &AuthResult{}

	session, err := a.store.Load(account)
	switch {
	case err == nil:
		accepted, err := a.replay(ctx, page, session)
		if err != nil {
			return nil, err
		}
		if accepted {
			result.Reused = true
			result.Cookies = len(session.Cookies)
			logger.Info().Str("account", account).Int("cookies", result.Cookies).Msg("Stored session accepted")
			return result, nil
		}

		logger.Warn().Str("account", account).Msg("Stored session rejected by portal, deleting")
		if err := a.store.Delete(account); err != nil {
			return nil, fmt.Errorf("delete rejected session: %w", err)
		}
		result.Invalidated = true

	case errors.Is(err, models.ErrNoSession):
		logger.Info().Str("account", account).Msg("No stored session")

	default:
		return nil, fmt.Errorf("load session: %w", err)
	}

	captured, err := a.manualLogin(ctx, page, account)
	if err != nil {
		return nil, err
	}
	result.ManualLogin = true
	result.Cookies = captured
	return result, nil
}

// replay injects the stored cookies and reports whether the probe page accepts them
func (a *Authenticator) replay(ctx context.Context, page Page, session *models.Session) (bool, error) {
	if err := page.Navigate(ctx, a.portal.BaseURL); err != nil {
		return false, automationError("navigate to portal", err)
	}
	if err := page.ClearCookies(ctx); err != nil {
		return false, automationError("clear cookies", err)
	}
	if err := sleep(ctx, a.settleDelay); err != nil {
		return false, err
	}
	if err := page.SetCookies(ctx, a.portal.BaseURL, session.Cookies); err != nil {
		return false, automationError("inject cookies", err)
	}
	if err := page.Reload(ctx); err != nil {
		return false, automationError("reload", err)
	}
	if err := page.Navigate(ctx, a.portal.ProbeURL); err != nil {
		return false, automationError("navigate to probe page", err)
	}
	if err := sleep(ctx, a.settleDelay); err != nil {
		return false, err
	}

	required, err := a.LoginRequired(ctx, page)
	if err != nil {
		return false, err
	}
	return !required, nil
}

// Login always runs the manual login flow and replaces any stored session with the captured cookies
func (a *Authenticator) Login(ctx context.Context, page Page, account string) (*AuthResult, error) {
	count, err := a.manualLogin(ctx, page, account)
	if err != nil {
		return nil, err
	}
	return &AuthResult{ManualLogin: true, Cookies: count}, nil
}

func (a *Authenticator) manualLogin(ctx context.Context, page Page, account string) (int, error) {
	if a.waiter == nil {
		return 0, fmt.Errorf("no valid session for %s and manual login is unavailable: %w", account, models.ErrAuthenticationRequired)
	}

	if err := page.Navigate(ctx, a.portal.LoginURL); err != nil {
		return 0, automationError("navigate to login page", err)
	}

	if err := a.waiter.WaitForLogin(ctx, account); err != nil {
		return 0, err
	}

	if err := sleep(ctx, a.settleDelay); err != nil {
		return 0, err
	}

	cookies, err := page.Cookies(ctx)
	if err != nil {
		return 0, automationError("capture cookies", err)
	}
	if len(cookies) == 0 {
		return 0, fmt.Errorf("no cookies captured after manual login: %w", models.ErrAuthenticationRequired)
	}
	if err := a.store.Save(account, cookies); err != nil {
		return 0, fmt.Errorf("save session: %w", err)
	}

	a.logger.Info().Str("account", account).Int("cookies", len(cookies)).Msg("Manual login captured")
	return len(cookies), nil
}

// LoginRequired reports whether the page is showing the login UI instead of portal content.
// CSS probes are matched against one HTML snapshot; XPath probes are asked of the live page.
func (a *Authenticator) LoginRequired(ctx context.Context, page Page) (bool, error) {
	location, err := page.URL(ctx)
	if err != nil {
		return false, automationError("read location", err)
	}
	if strings.Contains(strings.ToLower(location), "/login") {
		return true, nil
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return false, automationError("read page", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false, fmt.Errorf("parse page: %w", err)
	}

	for _, probe := range a.probes.Probes(selectors.LoginForm) {
		if probe.By == selectors.ByCSS {
			if doc.Find(probe.Query).Length() > 0 {
				return true, nil
			}
			continue
		}
		present, err := page.Present(ctx, probe)
		if err != nil {
			return false, automationError("probe login form", err)
		}
		if present {
			return true, nil
		}
	}
	return false, nil
}

func automationError(step string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", step, models.ErrAutomation, err)
}

// sleep waits for d unless ctx ends first
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
