package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/xhspub/internal/app"
	"github.com/ternarybob/xhspub/internal/common"
	"github.com/ternarybob/xhspub/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the publish daemon (HTTP intake, MCP tools, worker)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(true); err != nil {
			return err
		}
		common.InstallCrashHandler(config.Logging.Dir)
		defer common.RecoverWithCrashFile()

		application, err := app.New(config, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}
		defer application.Close()

		if err := application.Start(); err != nil {
			return fmt.Errorf("failed to start application: %w", err)
		}

		srv := server.New(application)
		serverErr := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()

		logger.Info().
			Str("url", baseURL()).
			Msg("Server ready - Press Ctrl+C to stop")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case <-sigChan:
			logger.Info().Msg("Interrupt signal received")
		case err := <-serverErr:
			return fmt.Errorf("server failed: %w", err)
		}

		logger.Info().Msg("Shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Server shutdown failed")
		}

		logger.Info().Msg("Server stopped")
		return nil
	},
}
