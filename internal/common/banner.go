package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs the effective settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("xhspub", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Str("host", config.Server.Host).
		Int("port", config.Server.Port).
		Str("default_account", config.Portal.DefaultAccount).
		Bool("headless", config.Browser.Headless).
		Str("timezone", config.Publish.Timezone).
		Msg("xhspub starting")
}
