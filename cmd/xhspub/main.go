package main

import (
	"fmt"
	"os"
	"path/filepath"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/common"
)

var (
	configFiles []string
	serverPort  int
	serverHost  string

	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:           "xhspub",
	Short:         "Queue and publish videos to the Xiaohongshu creator portal",
	SilenceUsage:  true,
	SilenceErrors: true,
	// Bare invocation runs the daemon
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (repeatable, later files override earlier ones)")
	rootCmd.PersistentFlags().IntVarP(&serverPort, "port", "p", 0, "Server port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&serverHost, "host", "", "Server host (overrides config)")

	rootCmd.AddCommand(serveCmd, loginCmd, publishCmd, statusCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig runs the startup sequence shared by every subcommand:
// config files, then env, then flags, then logger, optionally the banner.
func loadConfig(showBanner bool) error {
	if len(configFiles) == 0 {
		for _, candidate := range []string{"xhspub.toml", filepath.Join("deployments", "xhspub.toml")} {
			if _, err := os.Stat(candidate); err == nil {
				configFiles = append(configFiles, candidate)
				break
			}
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		if len(configFiles) == 0 {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return fmt.Errorf("failed to load configuration files %v: %w", configFiles, err)
	}

	common.ApplyFlagOverrides(config, serverPort, serverHost)

	logger = common.InitLogger(config)

	if showBanner {
		common.PrintBanner(config, logger)
	}

	logger.Debug().
		Strs("config_files", configFiles).
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.Logging.Output).
		Str("badger_path", config.Storage.Badger.Path).
		Str("cookie_dir", config.Auth.CookieDir).
		Msg("Resolved configuration")

	return nil
}

func baseURL() string {
	host := config.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, config.Server.Port)
}
