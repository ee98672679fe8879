package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ternarybob/xhspub/internal/services/auth"
	"github.com/ternarybob/xhspub/internal/services/browser"
	"github.com/ternarybob/xhspub/internal/services/events"
	"github.com/ternarybob/xhspub/internal/services/selectors"
)

var loginCmd = &cobra.Command{
	Use:   "login [account]",
	Short: "Open a visible browser, log in by hand and save the session cookies",
	Long: `Opens the creator portal login page in a visible browser. Complete the login
(QR code or SMS) and press Enter in this terminal. The captured cookies are
stored for the account and replayed by the daemon on every publish attempt.

Run this while the daemon is stopped, or against a different cookie directory;
the browser profile is locked for one instance at a time.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(false); err != nil {
			return err
		}

		account := config.Portal.DefaultAccount
		if len(args) == 1 {
			account = args[0]
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		eventService := events.NewService(logger)
		defer eventService.Close()

		store, err := auth.NewFileSessionStore(config.Auth.CookieDir, logger)
		if err != nil {
			return fmt.Errorf("failed to open session store: %w", err)
		}
		coordinator := auth.NewLoginCoordinator(eventService, logger,
			auth.WithTimeout(config.Auth.LoginTimeout.Duration),
			auth.WithTerminal(os.Stdin),
		)

		registry, err := selectors.NewRegistry(config.Selectors.File, logger)
		if err != nil {
			return fmt.Errorf("failed to load selectors: %w", err)
		}

		browserConfig := config.Browser
		browserConfig.Headless = false
		controller := browser.NewController(browserConfig, logger)
		authenticator := browser.NewAuthenticator(store, coordinator, registry, config.Portal, config.Browser.SettleDelay.Duration, logger)

		fmt.Printf("Logging in account %q - complete the login in the browser, then press Enter here\n", account)

		var result *browser.AuthResult
		err = controller.Run(ctx, func(ctx context.Context, page browser.Page) error {
			var loginErr error
			result, loginErr = authenticator.Login(ctx, page, account)
			return loginErr
		})
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		path, _ := store.Path(account)
		fmt.Printf("Saved %d cookies for %q to %s\n", result.Cookies, account, path)
		return nil
	},
}
