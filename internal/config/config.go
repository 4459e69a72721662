// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire watchdog configuration. It is loaded once per run and
// treated as read-only afterwards.
type Config struct {
	Logger         LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Browser        BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Start          StartConfig     `mapstructure:"start" yaml:"start"`
	Authentication AuthConfig      `mapstructure:"authentication" yaml:"authentication"`
	Timeouts       TimeoutsConfig  `mapstructure:"timeouts" yaml:"timeouts"`
	Retry          RetryConfig     `mapstructure:"retry" yaml:"retry"`
	Login          LoginConfig     `mapstructure:"login" yaml:"login"`
	End            EndConfig       `mapstructure:"end" yaml:"end"`
	Cookies        CookiesConfig   `mapstructure:"cookies" yaml:"cookies"`
	Listener       ListenerConfig  `mapstructure:"listener" yaml:"listener"`
	System         SystemConfig    `mapstructure:"system" yaml:"system"`
	Time           TimeConfig      `mapstructure:"time" yaml:"time"`
	Process        ProcessConfig   `mapstructure:"process" yaml:"process"`
	Slack          SlackConfig     `mapstructure:"slack" yaml:"slack"`
	Store          StoreConfig     `mapstructure:"store" yaml:"store"`
	Artifacts      ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
}

// LoggerConfig defines all the settings for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser process.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath        string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string `mapstructure:"args" yaml:"args"`
	ViewportWidth   int      `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight  int      `mapstructure:"viewport_height" yaml:"viewport_height"`
	// InputDelay slows every click and keystroke batch down, mimicking a human operator.
	InputDelay time.Duration `mapstructure:"input_delay" yaml:"input_delay"`
	Persona    PersonaConfig `mapstructure:"persona" yaml:"persona"`
}

// PersonaConfig overrides the browser fingerprint. Empty fields keep Chrome's defaults.
type PersonaConfig struct {
	UserAgent      string `mapstructure:"user_agent" yaml:"user_agent"`
	Locale         string `mapstructure:"locale" yaml:"locale"`
	Timezone       string `mapstructure:"timezone" yaml:"timezone"`
	AcceptLanguage string `mapstructure:"accept_language" yaml:"accept_language"`
}

// StartConfig is the entry point of the monitored flow.
type StartConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// AuthConfig holds the monitored account credentials.
type AuthConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// TimeoutsConfig holds per-phase timeouts, expressed in seconds.
type TimeoutsConfig struct {
	Default float64 `mapstructure:"default" yaml:"default"`
	Request float64 `mapstructure:"request" yaml:"request"`
	Login   float64 `mapstructure:"login" yaml:"login"`
	End     float64 `mapstructure:"end" yaml:"end"`
}

// Navigation is the upper bound for a single page load.
func (t TimeoutsConfig) Navigation() time.Duration { return seconds(t.Default) }

// RequestTimeout bounds each navigation attempt and is also the delay between attempts.
func (t TimeoutsConfig) RequestTimeout() time.Duration { return seconds(t.Request) }

// LoginWait bounds the wait for the login form or the landing element.
func (t TimeoutsConfig) LoginWait() time.Duration { return seconds(t.Login) }

// EndWait bounds the wait for the landing element.
func (t TimeoutsConfig) EndWait() time.Duration { return seconds(t.End) }

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// RetryConfig tunes the bounded retry of the initial navigation.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// LoginConfig describes the credential form.
type LoginConfig struct {
	URL       string         `mapstructure:"url" yaml:"url"`
	Selectors LoginSelectors `mapstructure:"selectors" yaml:"selectors"`
}

// LoginSelectors are CSS selectors for the credential form elements.
type LoginSelectors struct {
	UserID   string `mapstructure:"user_id" yaml:"user_id"`
	Password string `mapstructure:"password" yaml:"password"`
	LoginBtn string `mapstructure:"login_btn" yaml:"login_btn"`
}

// EndConfig describes the authenticated landing page.
type EndConfig struct {
	URL       string       `mapstructure:"url" yaml:"url"`
	Selectors EndSelectors `mapstructure:"selectors" yaml:"selectors"`
}

// EndSelectors are CSS selectors present on the landing page.
type EndSelectors struct {
	Common string `mapstructure:"common" yaml:"common"`
}

// CookiesConfig controls cookie persistence between runs.
type CookiesConfig struct {
	Active bool     `mapstructure:"active" yaml:"active"`
	Path   string   `mapstructure:"path" yaml:"path"`
	URLs   []string `mapstructure:"urls" yaml:"urls"`
}

// ListenerConfig tunes which network events are reported as anomalies.
type ListenerConfig struct {
	IgnoreHostnames []string `mapstructure:"ignore_hostnames" yaml:"ignore_hostnames"`
	ValidCodes      []int    `mapstructure:"valid_codes" yaml:"valid_codes"`
}

// SystemConfig is used by the scheduled runner.
type SystemConfig struct {
	LogDir        string `mapstructure:"log_dir" yaml:"log_dir"`
	ExpireLogDays int    `mapstructure:"expire_log_days" yaml:"expire_log_days"`
	ReportURL     string `mapstructure:"report_url" yaml:"report_url"`
}

// TimeConfig names the IANA zones used for run directory names and reports.
type TimeConfig struct {
	ZoneLocal  string `mapstructure:"zone_local" yaml:"zone_local"`
	ZoneGlobal string `mapstructure:"zone_global" yaml:"zone_global"`
}

// ProcessConfig bounds a whole run.
type ProcessConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// FailureTime is the metric value recorded for a failed run.
	FailureTime float64 `mapstructure:"failure_time" yaml:"failure_time"`
}

// SlackConfig configures the incoming webhook notifier.
type SlackConfig struct {
	URL     string `mapstructure:"url" yaml:"url"`
	Channel string `mapstructure:"channel" yaml:"channel"`
	User    string `mapstructure:"user" yaml:"user"`
	Emoji   string `mapstructure:"emoji" yaml:"emoji"`
}

// StoreConfig configures the Postgres run history.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// ArtifactsConfig configures uploads of failure artifacts to S3-compatible storage.
type ArtifactsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Region    string `mapstructure:"region" yaml:"region"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
}

// NewDefaultConfig creates a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "watchdog")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", true)
	v.SetDefault("browser.args", []string{"--start-fullscreen"})
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.input_delay", "100ms")

	// -- Flow --
	v.SetDefault("timeouts.default", 60)
	v.SetDefault("timeouts.request", 30)
	v.SetDefault("timeouts.login", 60)
	v.SetDefault("timeouts.end", 60)
	v.SetDefault("retry.max_attempts", 5)

	// -- Cookies --
	v.SetDefault("cookies.active", false)
	v.SetDefault("cookies.path", "cookies.json")

	// -- Runner --
	v.SetDefault("system.log_dir", "logs")
	v.SetDefault("system.expire_log_days", 14)
	v.SetDefault("time.zone_local", "Local")
	v.SetDefault("time.zone_global", "UTC")
	v.SetDefault("process.timeout", "5m")
	v.SetDefault("process.failure_time", 600)

	// -- Sinks --
	v.SetDefault("slack.user", "watchdog")
	v.SetDefault("slack.emoji", ":dog:")
	v.SetDefault("store.enabled", false)
	v.SetDefault("artifacts.enabled", false)
	v.SetDefault("artifacts.region", "us-east-1")
	v.SetDefault("artifacts.bucket", "watchdog")
	v.SetDefault("artifacts.prefix", "runs")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("authentication.password", "WATCHDOG_PASSWORD")
	v.BindEnv("slack.url", "WATCHDOG_SLACK_URL")
	v.BindEnv("store.url", "WATCHDOG_STORE_URL")
	v.BindEnv("artifacts.secret_key", "WATCHDOG_S3_SECRET_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the password if Unmarshal didn't pick it up
	if cfg.Authentication.Password == "" {
		cfg.Authentication.Password = os.Getenv("WATCHDOG_PASSWORD")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Start.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("start.url must be an absolute URL, got %q", c.Start.URL)
	}
	if c.Login.Selectors.UserID == "" || c.Login.Selectors.Password == "" || c.Login.Selectors.LoginBtn == "" {
		return fmt.Errorf("login.selectors.user_id, password and login_btn are required")
	}
	if c.End.Selectors.Common == "" {
		return fmt.Errorf("end.selectors.common is required")
	}
	if c.End.URL == "" {
		return fmt.Errorf("end.url is required")
	}
	if c.Timeouts.Request <= 0 || c.Timeouts.Login <= 0 || c.Timeouts.End <= 0 || c.Timeouts.Default <= 0 {
		return fmt.Errorf("timeouts.default, request, login and end must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be a positive integer")
	}
	if c.Cookies.Active && strings.TrimSpace(c.Cookies.Path) == "" {
		return fmt.Errorf("cookies.path is required when cookies.active is set")
	}
	for _, code := range c.Listener.ValidCodes {
		if code < 100 || code > 599 {
			return fmt.Errorf("listener.valid_codes contains invalid HTTP status %d", code)
		}
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	if err := c.Artifacts.Validate(); err != nil {
		return fmt.Errorf("artifacts configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the Store configuration.
func (s *StoreConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.URL == "" {
		return fmt.Errorf("url is required. Ensure WATCHDOG_STORE_URL is set")
	}
	return nil
}

// Validate checks the artifact storage configuration.
func (a *ArtifactsConfig) Validate() error {
	if !a.Enabled {
		return nil
	}
	if strings.TrimSpace(a.Endpoint) == "" || strings.TrimSpace(a.Bucket) == "" {
		return fmt.Errorf("endpoint and bucket are required")
	}
	if strings.Contains(a.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", a.Endpoint)
	}
	if a.AccessKey == "" || a.SecretKey == "" {
		return fmt.Errorf("access_key and secret_key are required. Ensure WATCHDOG_S3_SECRET_KEY is set")
	}
	return nil
}

// ValidateRunner checks the settings only the scheduled runner needs.
func (c *Config) ValidateRunner() error {
	if strings.TrimSpace(c.System.LogDir) == "" {
		return fmt.Errorf("system.log_dir is required")
	}
	if c.System.ExpireLogDays < 0 {
		return fmt.Errorf("system.expire_log_days must not be negative")
	}
	if c.Process.Timeout <= 0 {
		return fmt.Errorf("process.timeout must be a positive duration")
	}
	if _, err := time.LoadLocation(c.Time.ZoneGlobal); err != nil {
		return fmt.Errorf("time.zone_global: %w", err)
	}
	if _, err := time.LoadLocation(c.Time.ZoneLocal); err != nil {
		return fmt.Errorf("time.zone_local: %w", err)
	}
	return nil
}
