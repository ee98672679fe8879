package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Logging     LoggingConfig   `toml:"logging"`
	Portal      PortalConfig    `toml:"portal"`
	Auth        AuthConfig      `toml:"auth"`
	Browser     BrowserConfig   `toml:"browser"`
	Publish     PublishConfig   `toml:"publish"`
	Selectors   SelectorsConfig `toml:"selectors"`
	Storage     StorageConfig   `toml:"storage"`
	History     HistoryConfig   `toml:"history"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // default "15:04:05"
	Dir        string   `toml:"dir"`         // log directory for file output (default: ./logs)
}

// PortalConfig describes the creator portal being driven
type PortalConfig struct {
	BaseURL        string `toml:"base_url"`        // page cookies are injected against
	LoginURL       string `toml:"login_url"`       // manual login entry point
	ProbeURL       string `toml:"probe_url"`       // authenticated-only page used to validate a session
	PublishURL     string `toml:"publish_url"`     // upload page the state machine starts on
	DefaultAccount string `toml:"default_account"` // account identity when the request names none
}

// AuthConfig controls session persistence and the manual login fallback
type AuthConfig struct {
	CookieDir    string   `toml:"cookie_dir"`    // one <account>.json per account identity
	LoginTimeout Duration `toml:"login_timeout"` // 0 = wait for the operator indefinitely
}

// BrowserConfig controls the automated browser instance
type BrowserConfig struct {
	Headless         bool     `toml:"headless"`
	NoSandbox        bool     `toml:"no_sandbox"`
	UserAgent        string   `toml:"user_agent"`
	ExecPath         string   `toml:"exec_path"` // empty = chromedp default lookup
	WindowWidth      int      `toml:"window_width"`
	WindowHeight     int      `toml:"window_height"`
	LockFile         string   `toml:"lock_file"`
	LaunchTimeout    Duration `toml:"launch_timeout"`
	ElementWait      Duration `toml:"element_wait"`       // bounded wait for a selector to appear
	SettleDelay      Duration `toml:"settle_delay"`       // pause after navigation and cookie replay
	TagSuggestWait   Duration `toml:"tag_suggest_wait"`   // wait for the tag suggestion popup
	ScheduleSettle   Duration `toml:"schedule_settle"`    // wait after toggling scheduled mode
	SubmitTimeout    Duration `toml:"submit_timeout"`     // bounded wait for the submit control
	PostSubmitSettle Duration `toml:"post_submit_settle"` // wait before tearing the browser down
}

// PublishConfig controls defaults applied by the worker
type PublishConfig struct {
	Timezone        string   `toml:"timezone"`         // location publish times are expressed in
	DefaultDelay    Duration `toml:"default_delay"`    // offset from now when no time was requested
	MinInterval     Duration `toml:"min_interval"`     // minimum gap between two publish attempts
	DefaultVideo    string   `toml:"default_video"`    // local video used when no URL is given
	StagingDir      string   `toml:"staging_dir"`      // per-task staged artifacts
	DownloadTimeout Duration `toml:"download_timeout"` // remote video fetch timeout
}

// SelectorsConfig points at an optional selector override file
type SelectorsConfig struct {
	File  string `toml:"file"`
	Watch bool   `toml:"watch"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// HistoryConfig controls task record retention
type HistoryConfig struct {
	Retention     Duration `toml:"retention"`
	PruneSchedule string   `toml:"prune_schedule"` // 5-field cron expression
}

// WebSocketConfig contains configuration for the live event stream
type WebSocketConfig struct {
	AllowedEvents []string `toml:"allowed_events"` // empty = all events
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8000,
			Host: "0.0.0.0",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
			Dir:        "./logs",
		},
		Portal: PortalConfig{
			BaseURL:        "https://creator.xiaohongshu.com/creator/post",
			LoginURL:       "https://creator.xiaohongshu.com/creator/post",
			ProbeURL:       "https://creator.xiaohongshu.com/publish/publish",
			PublishURL:     "https://creator.xiaohongshu.com/publish/publish",
			DefaultAccount: "xiaohongshu",
		},
		Auth: AuthConfig{
			CookieDir:    "./cookies",
			LoginTimeout: Duration{}, // wait indefinitely
		},
		Browser: BrowserConfig{
			Headless:         false, // manual login needs a visible window
			NoSandbox:        true,
			UserAgent:        "Mozilla/5.0 (Macintosh; Linux) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/103.0.0.0 Safari/537.36",
			WindowWidth:      1920,
			WindowHeight:     1080,
			LockFile:         "./data/browser.lock",
			LaunchTimeout:    Duration{30 * time.Second},
			ElementWait:      Duration{10 * time.Second},
			SettleDelay:      Duration{2 * time.Second},
			TagSuggestWait:   Duration{1 * time.Second},
			ScheduleSettle:   Duration{5 * time.Second},
			SubmitTimeout:    Duration{100 * time.Second},
			PostSubmitSettle: Duration{3 * time.Second},
		},
		Publish: PublishConfig{
			Timezone:        "Local",
			DefaultDelay:    Duration{5 * time.Minute},
			MinInterval:     Duration{10 * time.Second},
			DefaultVideo:    "output/video.mp4",
			StagingDir:      "./data/staging",
			DownloadTimeout: Duration{30 * time.Second},
		},
		Selectors: SelectorsConfig{
			File:  "",
			Watch: true,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/badger",
			},
		},
		History: HistoryConfig{
			Retention:     Duration{7 * 24 * time.Hour},
			PruneSchedule: "0 * * * *",
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> .env -> env.
// CLI flags are applied afterwards by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// .env never overrides variables already present in the process environment
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies XHSPUB_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("XHSPUB_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("XHSPUB_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("XHSPUB_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Logging configuration
	if level := os.Getenv("XHSPUB_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("XHSPUB_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Portal and auth
	if account := os.Getenv("XHSPUB_DEFAULT_ACCOUNT"); account != "" {
		config.Portal.DefaultAccount = account
	}
	if cookieDir := os.Getenv("XHSPUB_COOKIE_DIR"); cookieDir != "" {
		config.Auth.CookieDir = cookieDir
	}
	if timeout := os.Getenv("XHSPUB_LOGIN_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Auth.LoginTimeout = Duration{d}
		}
	}

	// Browser
	if headless := os.Getenv("XHSPUB_BROWSER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
	if userAgent := os.Getenv("XHSPUB_BROWSER_USER_AGENT"); userAgent != "" {
		config.Browser.UserAgent = userAgent
	}
	if execPath := os.Getenv("XHSPUB_BROWSER_EXEC_PATH"); execPath != "" {
		config.Browser.ExecPath = execPath
	}

	// Publish
	if tz := os.Getenv("XHSPUB_TIMEZONE"); tz != "" {
		config.Publish.Timezone = tz
	}
	if video := os.Getenv("XHSPUB_DEFAULT_VIDEO"); video != "" {
		config.Publish.DefaultVideo = video
	}
	if stagingDir := os.Getenv("XHSPUB_STAGING_DIR"); stagingDir != "" {
		config.Publish.StagingDir = stagingDir
	}

	// Storage
	if badgerPath := os.Getenv("XHSPUB_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Selectors
	if selectorsFile := os.Getenv("XHSPUB_SELECTORS_FILE"); selectorsFile != "" {
		config.Selectors.File = selectorsFile
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Portal.ProbeURL == "" || c.Portal.LoginURL == "" || c.Portal.PublishURL == "" {
		return fmt.Errorf("portal login_url, probe_url and publish_url are required")
	}
	if c.Browser.SubmitTimeout.Duration <= 0 {
		return fmt.Errorf("browser.submit_timeout must be positive")
	}
	if c.Browser.ElementWait.Duration <= 0 {
		return fmt.Errorf("browser.element_wait must be positive")
	}
	if c.Publish.DefaultDelay.Duration < 0 {
		return fmt.Errorf("publish.default_delay must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if err := ValidateSchedule(c.History.PruneSchedule); err != nil {
		return fmt.Errorf("history.prune_schedule: %w", err)
	}
	return nil
}

// Location resolves the configured publish timezone
func (c *Config) Location() (*time.Location, error) {
	if c.Publish.Timezone == "" || strings.EqualFold(c.Publish.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Publish.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid publish.timezone %q: %w", c.Publish.Timezone, err)
	}
	return loc, nil
}

// ValidateSchedule validates a standard 5-field cron expression
func ValidateSchedule(schedule string) error {
	if schedule == "" {
		return nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// Duration is a time.Duration that decodes from TOML strings such as "30s" or "5m"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
