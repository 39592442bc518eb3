package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

type Config struct {
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Nats           NatsConfig           `mapstructure:"nats"`
	Server         ServerConfig         `mapstructure:"server"`
	Authentication AuthenticationConfig `mapstructure:"authentication"`
	Google         GoogleConfig         `mapstructure:"google"`
	CalendarSync   CalendarSyncConfig   `mapstructure:"calendar_sync"`
	Jobs           JobsConfig           `mapstructure:"jobs"`
	Booking        BookingConfig        `mapstructure:"booking"`
	Email          EmailConfig          `mapstructure:"email"`
	SMS            SMSConfig            `mapstructure:"sms"`
	Codes          CodesConfig          `mapstructure:"codes"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

type NatsConfig struct {
	URL     string `mapstructure:"url" yaml:"url"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory". The memory store is for local runs.
	Driver     string                  `mapstructure:"driver"`
	Host       string                  `mapstructure:"host"`
	Port       int                     `mapstructure:"port"`
	User       string                  `mapstructure:"user"`
	Password   string                  `mapstructure:"password"`
	DBName     string                  `mapstructure:"dbname"`
	SSLMode    string                  `mapstructure:"sslmode"`
	Pool       DatabasePoolConfig      `mapstructure:"pool"`
	Migrations DatabaseMigrationConfig `mapstructure:"migrations"`
}

type DatabasePoolConfig struct {
	MaxOpenConns       int `mapstructure:"max_open_conns"`
	MaxIdleConns       int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMin int `mapstructure:"conn_max_lifetime_minutes"`
}

type DatabaseMigrationConfig struct {
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr                string `mapstructure:"addr"`
	DB                  int    `mapstructure:"db"`
	Username            string `mapstructure:"username"`
	Password            string `mapstructure:"password"`
	PoolSize            int    `mapstructure:"pool_size"`
	MinIdleConns        int    `mapstructure:"min_idle_conns"`
	DialTimeoutSeconds  int    `mapstructure:"dial_timeout_seconds"`
	ReadTimeoutSeconds  int    `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

type ServerConfig struct {
	Port           int             `mapstructure:"port"`
	TimeoutSeconds int             `mapstructure:"timeout_seconds"`
	Environment    string          `mapstructure:"environment"`
	Domain         string          `mapstructure:"domain"`
	CORS           CORSConfig      `mapstructure:"cors"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowOrigins     []string `mapstructure:"allow_origins"`
	AllowMethods     []string `mapstructure:"allow_methods"`
	AllowHeaders     []string `mapstructure:"allow_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAgeSeconds    int      `mapstructure:"max_age_seconds"`
}

type AuthenticationConfig struct {
	Paseto PasetoConfig `mapstructure:"paseto"`
	// SessionCheck makes AuthRequired confirm the token's session id in Redis.
	SessionCheck bool `mapstructure:"session_check"`
	// EncryptionKey is a 32-byte hex string used for AES-256-GCM encryption
	// of the stored calendar credentials.
	EncryptionKey string `mapstructure:"encryption_key"`
}

type PasetoConfig struct {
	Mode         string `mapstructure:"mode"`
	LocalKeyHex  string `mapstructure:"local_key_hex"`
	PublicKeyHex string `mapstructure:"public_key_hex"`
	Issuer       string `mapstructure:"issuer"`
	Audience     string `mapstructure:"audience"`
}

type GoogleConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
	// WebhookAddress is the public HTTPS URL of POST /api/v1/calendar/webhook.
	WebhookAddress string `mapstructure:"webhook_address"`
	// SuccessRedirect is where the OAuth callback sends the browser.
	SuccessRedirect string `mapstructure:"success_redirect"`
}

type CalendarSyncConfig struct {
	PullWindowBackDays       int `mapstructure:"pull_window_back_days"`
	PullWindowForwardDays    int `mapstructure:"pull_window_forward_days"`
	ErrorLogCap              int `mapstructure:"error_log_cap"`
	ErrorRetentionDays       int `mapstructure:"error_retention_days"`
	WebhookRenewalHours      int `mapstructure:"webhook_renewal_threshold_hours"`
	WebhookTTLHours          int `mapstructure:"webhook_ttl_hours"`
	ManualSyncTimeoutSeconds int `mapstructure:"manual_sync_timeout_seconds"`
	ProviderTimeoutSeconds   int `mapstructure:"provider_timeout_seconds"`
	RetryMaxAttempts         int `mapstructure:"retry_max_attempts"`
	RetryWindowHours         int `mapstructure:"retry_window_hours"`
	RetryBatchSize           int `mapstructure:"retry_batch_size"`
	BusyCacheTTLSeconds      int `mapstructure:"busy_cache_ttl_seconds"`
	BatchConcurrency         int `mapstructure:"batch_concurrency"`
	TokenRefreshSkewSeconds  int `mapstructure:"token_refresh_skew_seconds"`
}

type JobConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
	TimeoutMinutes  int  `mapstructure:"timeout_minutes"`
}

type JobsConfig struct {
	Enabled        bool      `mapstructure:"enabled"`
	CalendarSync   JobConfig `mapstructure:"calendar_sync"`
	WebhookRenewal JobConfig `mapstructure:"webhook_renewal"`
	SyncRetry      JobConfig `mapstructure:"sync_retry"`
	ErrorCleanup   JobConfig `mapstructure:"error_cleanup"`
}

type BookingConfig struct {
	CancellationWindowHours int    `mapstructure:"cancellation_window_hours"`
	LockTTLSeconds          int    `mapstructure:"lock_ttl_seconds"`
	LockWaitMillis          int    `mapstructure:"lock_wait_millis"`
	DefaultRegion           string `mapstructure:"default_region"`
	MaxSlotRangeDays        int    `mapstructure:"max_slot_range_days"`
}

type EmailConfig struct {
	Enabled      bool       `mapstructure:"enabled"`
	From         string     `mapstructure:"from"`
	AppName      string     `mapstructure:"app_name"`
	BaseURL      string     `mapstructure:"base_url"`
	SupportEmail string     `mapstructure:"support_email"`
	SMTP         SMTPConfig `mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	UseTLS         bool   `mapstructure:"use_tls"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type SMSConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	SMSIR   SMSIRConfig `mapstructure:"smsir"`
}

type SMSIRConfig struct {
	APIKey    string `mapstructure:"api_key"`
	SecretKey string `mapstructure:"secret_key"`
	// Templates maps a notification template id (booking_created, ...) to
	// an sms.ir template id.
	Templates map[string]string `mapstructure:"templates"`
}

type CodesConfig struct {
	ConfirmationLength int    `mapstructure:"confirmation_length"`
	Charset            string `mapstructure:"charset"`
}

type ObservabilityConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ServiceName    string        `mapstructure:"service_name"`
	ServiceVersion string        `mapstructure:"service_version"`
	Tracing        TracingConfig `mapstructure:"tracing"`
	Metrics        MetricsConfig `mapstructure:"metrics"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string       `mapstructure:"level"`  // debug, info, warn, error
	Format string       `mapstructure:"format"` // text, json
	Output OutputConfig `mapstructure:"output"`
}

type OutputConfig struct {
	Stdout bool          `mapstructure:"stdout"`
	File   FileLogConfig `mapstructure:"file"`
	Loki   LokiConfig    `mapstructure:"loki"`
}

type FileLogConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`        // e.g. "logs/app.log"
	MaxSizeMB  int    `mapstructure:"max_size_mb"` // rotate after N MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type LokiConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"` // e.g. "http://localhost:3100"
	Username string `mapstructure:"username"` // for Grafana Cloud basic auth
	Password string `mapstructure:"password"`
}

// ---------------------------------------------------------------------------
// Duration helpers
// ---------------------------------------------------------------------------

func (c CalendarSyncConfig) PullWindow(now time.Time) (time.Time, time.Time) {
	return now.AddDate(0, 0, -c.PullWindowBackDays), now.AddDate(0, 0, c.PullWindowForwardDays)
}

func (c CalendarSyncConfig) ManualSyncTimeout() time.Duration {
	return time.Duration(c.ManualSyncTimeoutSeconds) * time.Second
}

func (c CalendarSyncConfig) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

func (c CalendarSyncConfig) BusyCacheTTL() time.Duration {
	return time.Duration(c.BusyCacheTTLSeconds) * time.Second
}

func (c CalendarSyncConfig) WebhookRenewalThreshold() time.Duration {
	return time.Duration(c.WebhookRenewalHours) * time.Hour
}

func (c CalendarSyncConfig) WebhookTTL() time.Duration {
	return time.Duration(c.WebhookTTLHours) * time.Hour
}

func (c CalendarSyncConfig) RetryWindow() time.Duration {
	return time.Duration(c.RetryWindowHours) * time.Hour
}

func (c CalendarSyncConfig) ErrorRetention() time.Duration {
	return time.Duration(c.ErrorRetentionDays) * 24 * time.Hour
}

func (c CalendarSyncConfig) TokenRefreshSkew() time.Duration {
	return time.Duration(c.TokenRefreshSkewSeconds) * time.Second
}

func (j JobConfig) Interval() time.Duration {
	return time.Duration(j.IntervalMinutes) * time.Minute
}

func (j JobConfig) Timeout() time.Duration {
	return time.Duration(j.TimeoutMinutes) * time.Minute
}

func (b BookingConfig) CancellationWindow() time.Duration {
	return time.Duration(b.CancellationWindowHours) * time.Hour
}

func (b BookingConfig) LockTTL() time.Duration {
	return time.Duration(b.LockTTLSeconds) * time.Second
}

func (b BookingConfig) LockWait() time.Duration {
	return time.Duration(b.LockWaitMillis) * time.Millisecond
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

var ErrInvalidConfig = errors.New("invalid configuration")

func (c *Config) Validate() error {
	if c.Database.Driver != "postgres" && c.Database.Driver != "memory" {
		return fmt.Errorf("%w: database.driver must be postgres or memory, got %q", ErrInvalidConfig, c.Database.Driver)
	}

	if c.Authentication.EncryptionKey != "" {
		key, err := hex.DecodeString(c.Authentication.EncryptionKey)
		if err != nil || len(key) != 32 {
			return fmt.Errorf("%w: authentication.encryption_key must be 64 hex chars", ErrInvalidConfig)
		}
	}

	if c.CalendarSync.ErrorLogCap < 1 {
		return fmt.Errorf("%w: calendar_sync.error_log_cap must be at least 1", ErrInvalidConfig)
	}
	if c.CalendarSync.PullWindowBackDays < 0 || c.CalendarSync.PullWindowForwardDays <= 0 {
		return fmt.Errorf("%w: calendar_sync pull window must be positive", ErrInvalidConfig)
	}
	if c.CalendarSync.RetryMaxAttempts < 1 {
		return fmt.Errorf("%w: calendar_sync.retry_max_attempts must be at least 1", ErrInvalidConfig)
	}

	jobs := map[string]JobConfig{
		"calendar_sync":   c.Jobs.CalendarSync,
		"webhook_renewal": c.Jobs.WebhookRenewal,
		"sync_retry":      c.Jobs.SyncRetry,
		"error_cleanup":   c.Jobs.ErrorCleanup,
	}
	for name, j := range jobs {
		if j.Enabled && j.IntervalMinutes <= 0 {
			return fmt.Errorf("%w: jobs.%s.interval_minutes must be positive", ErrInvalidConfig, name)
		}
	}

	if c.Booking.CancellationWindowHours < 0 {
		return fmt.Errorf("%w: booking.cancellation_window_hours must not be negative", ErrInvalidConfig)
	}

	return nil
}
