package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/asmfeed/asmfeed/pkg/types"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultBaseURL        = "https://asm.cloud.tenable.com/api/1.0"
	DefaultConnectTimeout = 10 // seconds
	DefaultReadTimeout    = 60 // seconds
	DefaultMaxAttempts    = 6
	DefaultPageLimit      = 200
	MaxPageLimit          = 500
	DefaultRunInterval    = 15 * time.Minute
)

// Config is the top-level configuration for asmfeed and asmprobe.
// It is loaded once per process invocation and treated as immutable for
// that run (daemon mode swaps the whole value on reload).
type Config struct {
	API      APIConfig      `yaml:"api"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Timeouts TimeoutConfig  `yaml:"timeouts"`
	Retry    RetryConfig    `yaml:"retry"`
	Sink     SinkConfig     `yaml:"sink"`
	Jobs     JobsConfig     `yaml:"collectors"`
	Daemon   DaemonConfig   `yaml:"daemon"`

	// RateLimitPerSec caps outgoing request rate. 0 disables the limiter.
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`

	// InsecureSkipVerify disables TLS certificate verification.
	// Defaults to enabled verification; only set this for internal CAs.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// APIConfig identifies the remote API and the credential used against it.
type APIConfig struct {
	// BaseURL is the API root, without a trailing slash.
	BaseURL string `yaml:"base_url"`

	// Key is the literal credential. Prefer KeyEnv in real deployments.
	Key string `yaml:"key"`

	// KeyEnv is the name of the environment variable holding the credential.
	KeyEnv string `yaml:"key_env"`
}

// Secret is a credential value. It renders redacted through slog and fmt;
// only Reveal returns the raw value, for header injection.
type Secret string

func (Secret) LogValue() slog.Value { return slog.StringValue("[redacted]") }

func (Secret) String() string { return "[redacted]" }

// Reveal returns the raw credential. The result is attached verbatim to the
// Authorization header and must never be logged or echoed in diagnostic
// output.
func (s Secret) Reveal() string { return string(s) }

// Credential returns the API key, preferring the environment variable when
// set.
func (a APIConfig) Credential() Secret {
	if a.KeyEnv != "" {
		if v := os.Getenv(a.KeyEnv); v != "" {
			return Secret(v)
		}
	}
	return Secret(a.Key)
}

// ProxyConfig routes both HTTP and HTTPS egress through a proxy when enabled.
// Either URL or the scheme/host/port fields may be given; a partially
// specified host/port pair fails validation rather than silently bypassing
// the proxy.
type ProxyConfig struct {
	Enabled bool `yaml:"enabled"`

	// URL is a pre-built proxy URL. Takes precedence over the parts below.
	URL string `yaml:"url"`

	Scheme   string `yaml:"scheme"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`

	// PasswordEnv is the name of the environment variable holding the
	// proxy password.
	PasswordEnv string `yaml:"password_env"`
}

// Password returns the proxy password resolved from the environment.
func (p ProxyConfig) Password() string {
	if p.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(p.PasswordEnv)
}

// ProxyURL builds the effective proxy URL, or nil when the proxy is disabled.
func (p ProxyConfig) ProxyURL() (*url.URL, error) {
	if !p.Enabled {
		return nil, nil
	}
	if p.URL != "" {
		u, err := url.Parse(p.URL)
		if err != nil {
			return nil, &types.ConfigError{Reason: "invalid proxy url: " + err.Error()}
		}
		return u, nil
	}
	if p.Host == "" || p.Port == 0 {
		return nil, &types.ConfigError{Reason: "proxy enabled but host/port not fully defined"}
	}
	scheme := p.Scheme
	if scheme == "" {
		scheme = "http"
	}
	u := &url.URL{
		Scheme: scheme,
		Host:   p.Host + ":" + strconv.Itoa(p.Port),
	}
	if p.Username != "" && p.Password() != "" {
		u.User = url.UserPassword(p.Username, p.Password())
	}
	return u, nil
}

// TimeoutConfig holds per-request timeouts in seconds. Non-positive values
// are coerced to the defaults rather than rejected.
type TimeoutConfig struct {
	ConnectSeconds int `yaml:"connect_seconds"`
	ReadSeconds    int `yaml:"read_seconds"`
}

// Connect returns the connect timeout as a duration.
func (t TimeoutConfig) Connect() time.Duration {
	return time.Duration(t.ConnectSeconds) * time.Second
}

// Read returns the read timeout as a duration.
func (t TimeoutConfig) Read() time.Duration {
	return time.Duration(t.ReadSeconds) * time.Second
}

// RetryConfig bounds the retry budget for a single request.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// SinkConfig selects where NDJSON events are written.
type SinkConfig struct {
	// Path is a file path for a rotating NDJSON sink. Empty means stdout.
	Path string `yaml:"path"`

	// Rotation settings for the file sink. Zero values use lumberjack's
	// defaults.
	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days"`
}

// JobsConfig selects which collectors daemon mode runs and how often.
// One-shot mode ignores Enabled and runs whatever -collector names.
type JobsConfig struct {
	Enabled  []string      `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`

	// PageLimit is the page size for paginated endpoints, clamped to
	// [1, MaxPageLimit].
	PageLimit int `yaml:"page_limit"`
}

// DaemonConfig holds daemon-only settings.
type DaemonConfig struct {
	// MetricsAddr is the listen address for the Prometheus text-format
	// run-counter endpoint. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults; required fields and
// structural constraints are validated fail-fast.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.ConfigError{Reason: "read file: " + err.Error()}
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &types.ConfigError{Reason: "parse yaml: " + err.Error()}
	}

	coerce(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		API: APIConfig{BaseURL: DefaultBaseURL},
		Timeouts: TimeoutConfig{
			ConnectSeconds: DefaultConnectTimeout,
			ReadSeconds:    DefaultReadTimeout,
		},
		Retry: RetryConfig{MaxAttempts: DefaultMaxAttempts},
		Jobs: JobsConfig{
			Interval:  DefaultRunInterval,
			PageLimit: DefaultPageLimit,
		},
	}
}

// coerce repairs out-of-range numeric fields instead of failing the load.
// A scripted input with a bad timeout should still run with the defaults.
func coerce(cfg *Config) {
	if cfg.Timeouts.ConnectSeconds <= 0 {
		cfg.Timeouts.ConnectSeconds = DefaultConnectTimeout
	}
	if cfg.Timeouts.ReadSeconds <= 0 {
		cfg.Timeouts.ReadSeconds = DefaultReadTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Jobs.PageLimit <= 0 {
		cfg.Jobs.PageLimit = DefaultPageLimit
	}
	if cfg.Jobs.PageLimit > MaxPageLimit {
		cfg.Jobs.PageLimit = MaxPageLimit
	}
	if cfg.Jobs.Interval <= 0 {
		cfg.Jobs.Interval = DefaultRunInterval
	}
	if cfg.RateLimitPerSec < 0 {
		cfg.RateLimitPerSec = 0
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.API.BaseURL == "" {
		return &types.ConfigError{Reason: "api.base_url is required"}
	}
	if _, err := url.Parse(cfg.API.BaseURL); err != nil {
		return &types.ConfigError{Reason: fmt.Sprintf("api.base_url %q: %v", cfg.API.BaseURL, err)}
	}
	if cfg.API.Credential() == "" {
		return &types.ConfigError{Reason: "missing api key (set api.key or api.key_env)"}
	}
	// Building the proxy URL exercises the partial host/port check.
	if _, err := cfg.Proxy.ProxyURL(); err != nil {
		return err
	}
	return nil
}
