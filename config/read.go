package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/Alijeyrad/simorq_calendar/pkg/constants"
	"github.com/spf13/viper"
)

var GlobalConf *Config

func ReadConfig(configPath string) (*Config, error) {
	viper.SetConfigName(constants.ConfigName)
	viper.SetConfigType(constants.ConfigFormat)
	viper.AddConfigPath(configPath)

	// Allow env vars to override config values.
	// e.g. SIMORQ_DATABASE_HOST overrides database.host
	viper.SetEnvPrefix(constants.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(viper.GetViper())

	// Read the config file (optional in Docker environments)
	if err := viper.ReadInConfig(); err != nil {
		// If config file not found but we have env vars, continue with defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Only fail if it's not a "file not found" error
			if os.Getenv("SIMORQ_DATABASE_HOST") == "" {
				return nil, fmt.Errorf("error reading config file: %v", err)
			}
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %v", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func MustReadConfig(path string) *Config {
	config, err := ReadConfig(path)
	if err != nil {
		panic(err)
	}

	GlobalConf = config

	return config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.pool.max_open_conns", 20)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("nats.url", "nats://localhost:4222")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 30)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.rate_limit.requests_per_minute", 60)

	v.SetDefault("google.scopes", []string{
		"https://www.googleapis.com/auth/calendar",
		"https://www.googleapis.com/auth/userinfo.email",
	})

	v.SetDefault("calendar_sync.pull_window_back_days", 90)
	v.SetDefault("calendar_sync.pull_window_forward_days", 365)
	v.SetDefault("calendar_sync.error_log_cap", 50)
	v.SetDefault("calendar_sync.error_retention_days", 30)
	v.SetDefault("calendar_sync.webhook_renewal_threshold_hours", 24)
	v.SetDefault("calendar_sync.webhook_ttl_hours", 7*24)
	v.SetDefault("calendar_sync.manual_sync_timeout_seconds", 60)
	v.SetDefault("calendar_sync.provider_timeout_seconds", 15)
	v.SetDefault("calendar_sync.retry_max_attempts", 3)
	v.SetDefault("calendar_sync.retry_window_hours", 24)
	v.SetDefault("calendar_sync.retry_batch_size", 200)
	v.SetDefault("calendar_sync.busy_cache_ttl_seconds", 300)
	v.SetDefault("calendar_sync.batch_concurrency", 8)
	v.SetDefault("calendar_sync.token_refresh_skew_seconds", 60)

	v.SetDefault("jobs.enabled", true)
	for name, minutes := range map[string]int{
		"calendar_sync":   10,
		"webhook_renewal": 24 * 60,
		"sync_retry":      60,
		"error_cleanup":   24 * 60,
	} {
		v.SetDefault("jobs."+name+".enabled", true)
		v.SetDefault("jobs."+name+".interval_minutes", minutes)
		v.SetDefault("jobs."+name+".timeout_minutes", 5)
	}

	v.SetDefault("booking.cancellation_window_hours", 24)
	v.SetDefault("booking.lock_ttl_seconds", 10)
	v.SetDefault("booking.lock_wait_millis", 3000)
	v.SetDefault("booking.max_slot_range_days", 31)
	v.SetDefault("booking.default_region", "IR")

	v.SetDefault("codes.confirmation_length", 8)

	v.SetDefault("email.app_name", "Simorq")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout_seconds", 30)

	v.SetDefault("observability.service_name", constants.AppName)
	v.SetDefault("observability.metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output.stdout", true)
}
