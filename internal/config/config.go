// Package config loads and validates daemon configuration with the
// precedence ENV > config file > defaults.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds the full runtime configuration of the wacapture daemon.
type Config struct {
	// Server
	ListenAddr  string `yaml:"listenAddr"`
	MetricsAddr string `yaml:"metricsAddr"` // empty disables the metrics listener
	LogLevel    string `yaml:"logLevel"`

	// Backend notification
	BackendBaseURL string `yaml:"backendBaseUrl"`
	SourceLabel    string `yaml:"sourceLabel"`

	// Export artifact
	ExportDir string `yaml:"exportDir"`

	// Session lifecycle
	QRTimeout      time.Duration `yaml:"qrTimeout"`
	PairingTimeout time.Duration `yaml:"pairingTimeout"`
	Retention      time.Duration `yaml:"retention"`

	// Extraction bounds
	MaxConversations int           `yaml:"maxConversations"`
	MaxMessages      int           `yaml:"maxMessages"`
	FetchTimeout     time.Duration `yaml:"fetchTimeout"`
	FetchRPS         float64       `yaml:"fetchRps"`

	// Browser driver
	BrowserBin        string `yaml:"browserBin"`
	BrowserControlURL string `yaml:"browserControlUrl"` // attach to running Chrome instead of launching
	Headless          bool   `yaml:"headless"`
	LoginURL          string `yaml:"loginUrl"`

	// API ingress protection
	RateLimitEnabled bool          `yaml:"rateLimitEnabled"`
	RateLimitMax     int           `yaml:"rateLimitMax"`
	RateLimitWindow  time.Duration `yaml:"rateLimitWindow"`

	// Tracing
	TracingEnabled  bool    `yaml:"tracingEnabled"`
	TracingExporter string  `yaml:"tracingExporter"` // grpc | http | noop
	TracingEndpoint string  `yaml:"tracingEndpoint"`
	TracingSample   float64 `yaml:"tracingSample"`
	Environment     string  `yaml:"environment"`
}

// Defaults returns the built-in configuration baseline.
func Defaults() Config {
	return Config{
		ListenAddr:       ":8080",
		MetricsAddr:      ":9090",
		LogLevel:         "info",
		SourceLabel:      "whatsapp",
		ExportDir:        "/var/lib/wacapture/exports",
		QRTimeout:        60 * time.Second,
		PairingTimeout:   3 * time.Minute,
		Retention:        5 * time.Minute,
		MaxConversations: 20,
		MaxMessages:      100,
		FetchTimeout:     30 * time.Second,
		FetchRPS:         2,
		Headless:         true,
		LoginURL:         "https://web.whatsapp.com",
		RateLimitEnabled: true,
		RateLimitMax:     60,
		RateLimitWindow:  time.Minute,
		TracingExporter:  "noop",
		TracingSample:    1.0,
		Environment:      "production",
	}
}

// FromEnv overlays WACAP_* environment variables on top of base.
func FromEnv(base Config) Config {
	cfg := base
	cfg.ListenAddr = ParseString("WACAP_LISTEN", base.ListenAddr)
	cfg.MetricsAddr = ParseString("WACAP_METRICS_ADDR", base.MetricsAddr)
	cfg.LogLevel = ParseString("WACAP_LOG_LEVEL", base.LogLevel)
	cfg.BackendBaseURL = ParseString("WACAP_BACKEND_BASE", base.BackendBaseURL)
	cfg.SourceLabel = ParseString("WACAP_SOURCE", base.SourceLabel)
	cfg.ExportDir = ParseString("WACAP_EXPORT_DIR", base.ExportDir)
	cfg.QRTimeout = ParseDuration("WACAP_QR_TIMEOUT", base.QRTimeout)
	cfg.PairingTimeout = ParseDuration("WACAP_PAIRING_TIMEOUT", base.PairingTimeout)
	cfg.Retention = ParseDuration("WACAP_RETENTION", base.Retention)
	cfg.MaxConversations = ParseInt("WACAP_MAX_CONVERSATIONS", base.MaxConversations)
	cfg.MaxMessages = ParseInt("WACAP_MAX_MESSAGES", base.MaxMessages)
	cfg.FetchTimeout = ParseDuration("WACAP_FETCH_TIMEOUT", base.FetchTimeout)
	cfg.FetchRPS = ParseFloat("WACAP_FETCH_RPS", base.FetchRPS)
	cfg.BrowserBin = ParseString("WACAP_BROWSER_BIN", base.BrowserBin)
	cfg.BrowserControlURL = ParseString("WACAP_BROWSER_CONTROL_URL", base.BrowserControlURL)
	cfg.Headless = ParseBool("WACAP_HEADLESS", base.Headless)
	cfg.LoginURL = ParseString("WACAP_LOGIN_URL", base.LoginURL)
	cfg.RateLimitEnabled = ParseBool("WACAP_RATELIMIT_ENABLED", base.RateLimitEnabled)
	cfg.RateLimitMax = ParseInt("WACAP_RATELIMIT_MAX", base.RateLimitMax)
	cfg.RateLimitWindow = ParseDuration("WACAP_RATELIMIT_WINDOW", base.RateLimitWindow)
	cfg.TracingEnabled = ParseBool("WACAP_TRACING_ENABLED", base.TracingEnabled)
	cfg.TracingExporter = ParseString("WACAP_TRACING_EXPORTER", base.TracingExporter)
	cfg.TracingEndpoint = ParseString("WACAP_TRACING_ENDPOINT", base.TracingEndpoint)
	cfg.TracingSample = ParseFloat("WACAP_TRACING_SAMPLE", base.TracingSample)
	cfg.Environment = ParseString("WACAP_ENVIRONMENT", base.Environment)
	return cfg
}

// Validate checks the configuration for values the daemon cannot start with.
func Validate(cfg Config) error {
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen address is empty")
	}
	if cfg.ExportDir == "" {
		return fmt.Errorf("export directory is empty")
	}
	if cfg.BackendBaseURL != "" {
		u, err := url.Parse(cfg.BackendBaseURL)
		if err != nil {
			return fmt.Errorf("invalid backend base URL %q: %w", cfg.BackendBaseURL, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("unsupported backend base URL scheme %q", u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("backend base URL %q is missing host", cfg.BackendBaseURL)
		}
	}
	if cfg.QRTimeout <= 0 || cfg.PairingTimeout <= 0 {
		return fmt.Errorf("auth timeouts must be positive")
	}
	if cfg.Retention <= 0 {
		return fmt.Errorf("retention window must be positive")
	}
	if cfg.MaxConversations <= 0 || cfg.MaxMessages <= 0 {
		return fmt.Errorf("extraction bounds must be positive")
	}
	if cfg.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if cfg.FetchRPS <= 0 {
		return fmt.Errorf("fetch rate must be positive")
	}
	return nil
}
