package auth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/interfaces"
	"github.com/ternarybob/xhspub/internal/models"
)

// LoginCoordinator parks the worker while an operator completes a manual login.
// Completion arrives through CompleteLogin (HTTP) or an Enter keystroke on an interactive terminal.
type LoginCoordinator struct {
	mu           sync.Mutex
	pending      map[string]chan struct{}
	timeout      time.Duration
	eventService interfaces.EventService
	logger       arbor.ILogger

	terminal     io.Reader
	terminalOnce sync.Once
}

// LoginOption configures a LoginCoordinator
type LoginOption func(*LoginCoordinator)

// WithTimeout bounds each wait; zero waits indefinitely
func WithTimeout(timeout time.Duration) LoginOption {
	return func(c *LoginCoordinator) { c.timeout = timeout }
}

// WithTerminal reads completion keystrokes from r
func WithTerminal(r io.Reader) LoginOption {
	return func(c *LoginCoordinator) { c.terminal = r }
}

// WithStdinIfTerminal reads completion keystrokes from stdin when it is a TTY
func WithStdinIfTerminal() LoginOption {
	return func(c *LoginCoordinator) {
		if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
			c.terminal = os.Stdin
		}
	}
}

// NewLoginCoordinator creates a coordinator; eventService may be nil
func NewLoginCoordinator(eventService interfaces.EventService, logger arbor.ILogger, opts ...LoginOption) *LoginCoordinator {
	c := &LoginCoordinator{
		pending:      make(map[string]chan struct{}),
		eventService: eventService,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WaitForLogin blocks until the login for account is confirmed, ctx ends, or the timeout elapses.
// A timeout is reported as ErrAuthenticationRequired.
func (c *LoginCoordinator) WaitForLogin(ctx context.Context, account string) error {
	done := c.register(account)
	defer c.unregister(account, done)

	c.startTerminal()
	c.publish(ctx, interfaces.EventLoginRequired, account)

	c.logger.Warn().
		Str("account", account).
		Dur("timeout", c.timeout).
		Msg("Manual login required - complete login in the browser window, then press Enter or POST /api/session/login-complete")

	var timeoutC <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case <-done:
		c.logger.Info().Str("account", account).Msg("Manual login confirmed")
		c.publish(ctx, interfaces.EventLoginCompleted, account)
		return nil
	case <-timeoutC:
		return fmt.Errorf("manual login for %s not completed within %s: %w", account, c.timeout, models.ErrAuthenticationRequired)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CompleteLogin signals a pending wait for account; it reports whether one was pending
func (c *LoginCoordinator) CompleteLogin(account string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	done, ok := c.pending[account]
	if !ok {
		return false
	}
	close(done)
	delete(c.pending, account)
	return true
}

// Pending lists accounts currently waiting for manual login
func (c *LoginCoordinator) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	accounts := make([]string, 0, len(c.pending))
	for account := range c.pending {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	return accounts
}

func (c *LoginCoordinator) register(account string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	done, ok := c.pending[account]
	if !ok {
		done = make(chan struct{})
		c.pending[account] = done
	}
	return done
}

func (c *LoginCoordinator) unregister(account string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.pending[account]; ok && current == done {
		delete(c.pending, account)
	}
}

// startTerminal spawns one reader for the process; each line completes every pending login
func (c *LoginCoordinator) startTerminal() {
	if c.terminal == nil {
		return
	}
	c.terminalOnce.Do(func() {
		go func() {
			scanner := bufio.NewScanner(c.terminal)
			for scanner.Scan() {
				for _, account := range c.Pending() {
					c.CompleteLogin(account)
				}
			}
		}()
	})
}

func (c *LoginCoordinator) publish(ctx context.Context, eventType interfaces.EventType, account string) {
	if c.eventService == nil {
		return
	}
	_ = c.eventService.Publish(ctx, interfaces.Event{
		Type:    eventType,
		Payload: map[string]interface{}{"account": account, "timestamp": time.Now()},
	})
}
