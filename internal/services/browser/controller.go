package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/gofrs/flock"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/common"
	"github.com/ternarybob/xhspub/internal/models"
)

// Controller launches one automated browser per publish attempt.
// A file lock keeps separate processes (server and CLI login) from driving the portal at once.
type Controller struct {
	config common.BrowserConfig
	logger arbor.ILogger
}

// NewController creates a browser controller
func NewController(config common.BrowserConfig, logger arbor.ILogger) *Controller {
	return &Controller{config: config, logger: logger}
}

// allocatorOptions builds the Chrome flags: automation hints suppressed, custom user agent
func allocatorOptions(config common.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("no-sandbox", config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("start-maximized", true),
	)
	if config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(config.UserAgent))
	}
	if config.WindowWidth > 0 && config.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(config.WindowWidth, config.WindowHeight))
	}
	if config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(config.ExecPath))
	}
	return opts
}

// Run acquires a fresh browser, hands its page to fn, and always tears the browser down,
// including when fn fails or panics. Launch failures are reported as ErrAutomation.
func (c *Controller) Run(ctx context.Context, fn func(ctx context.Context, page Page) error) error {
	unlock, err := c.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	startTime := time.Now()

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(c.config)...)
	defer allocatorCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	defer func() {
		closeCtx, cancel := context.WithTimeout(browserCtx, 5*time.Second)
		defer cancel()
		if err := chromedp.Cancel(closeCtx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Debug().Err(err).Msg("Browser close returned error")
		}
		browserCancel()
		c.logger.Debug().Dur("held_for", time.Since(startTime)).Msg("Browser released")
	}()

	if err := c.probe(ctx, browserCtx); err != nil {
		return fmt.Errorf("launch browser: %w: %w", models.ErrAutomation, err)
	}

	c.logger.Debug().
		Bool("headless", c.config.Headless).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser acquired")

	return fn(ctx, newChromePage(browserCtx))
}

// probe checks the browser started and responds
func (c *Controller) probe(ctx, browserCtx context.Context) error {
	timeout := c.config.LaunchTimeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(browserCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		return fmt.Errorf("startup test failed: %w", err)
	}
	var title string
	if err := chromedp.Run(probeCtx, chromedp.Title(&title)); err != nil {
		return fmt.Errorf("responsiveness test failed: %w", err)
	}
	return nil
}

// lock takes the cross-process browser lock, waiting while another process holds it
func (c *Controller) lock(ctx context.Context) (func(), error) {
	if c.config.LockFile == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.config.LockFile), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	fileLock := flock.New(c.config.LockFile)
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("browser lock: %w", err)
	}
	if !locked {
		c.logger.Warn().Str("lock_file", c.config.LockFile).Msg("Browser is in use by another process, waiting")
		locked, err = fileLock.TryLockContext(ctx, 500*time.Millisecond)
		if err != nil {
			return nil, fmt.Errorf("browser lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("browser lock not acquired")
		}
	}
	return func() { _ = fileLock.Unlock() }, nil
}
