package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Supabase SupabaseConfig `mapstructure:"supabase"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Security SecurityConfig `mapstructure:"security"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig holds the companion API server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds the local SQLite store configuration
type DatabaseConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// SupabaseConfig holds the remote snapshot store configuration. URL and
// anon key are optional; when either is missing, sync degrades to a
// local-only no-op instead of failing startup.
type SupabaseConfig struct {
	URL           string        `mapstructure:"url"`
	AnonKey       string        `mapstructure:"anon_key"`
	SnapshotTable string        `mapstructure:"snapshot_table"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether the remote endpoint is configured.
func (cfg *SupabaseConfig) Enabled() bool {
	return cfg.URL != "" && cfg.AnonKey != ""
}

// SyncConfig holds tuning for the sync engine and autosave pipeline
type SyncConfig struct {
	ThrottleWindow      time.Duration `mapstructure:"throttle_window"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryBaseDelay      time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay       time.Duration `mapstructure:"retry_max_delay"`
	DebounceInterval    time.Duration `mapstructure:"debounce_interval"`
	PendingWaitTimeout  time.Duration `mapstructure:"pending_wait_timeout"`
	PendingPollInterval time.Duration `mapstructure:"pending_poll_interval"`
	ErrorDisplayTime    time.Duration `mapstructure:"error_display_time"`
	SignOutGraceDelay   time.Duration `mapstructure:"sign_out_grace_delay"`
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORSAllowedOrigins string        `mapstructure:"cors_allowed_origins"`
	RateLimitRequests  int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow    time.Duration `mapstructure:"rate_limit_window"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load loads configuration from the environment and .env file
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors)
	_ = godotenv.Load()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()
	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "PromptStudio")
	viper.SetDefault("app.version", "2.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// Database defaults
	viper.SetDefault("database.path", "prompt-studio.db")
	viper.SetDefault("database.busy_timeout", "5s")

	// Supabase defaults (empty URL/key leaves sync disabled)
	viper.SetDefault("supabase.url", "")
	viper.SetDefault("supabase.anon_key", "")
	viper.SetDefault("supabase.snapshot_table", "user_snapshots")
	viper.SetDefault("supabase.timeout", "15s")

	// Sync defaults
	viper.SetDefault("sync.throttle_window", "10s")
	viper.SetDefault("sync.max_retries", 3)
	viper.SetDefault("sync.retry_base_delay", "1s")
	viper.SetDefault("sync.retry_max_delay", "10s")
	viper.SetDefault("sync.debounce_interval", "500ms")
	viper.SetDefault("sync.pending_wait_timeout", "5s")
	viper.SetDefault("sync.pending_poll_interval", "50ms")
	viper.SetDefault("sync.error_display_time", "3s")
	viper.SetDefault("sync.sign_out_grace_delay", "100ms")

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "json")
	viper.SetDefault("logger.output", "stdout")

	// Security defaults
	viper.SetDefault("security.cors_allowed_origins", "*")
	viper.SetDefault("security.rate_limit_requests", 100)
	viper.SetDefault("security.rate_limit_window", "1m")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
}

func bindEnvVars() {
	// App
	viper.BindEnv("app.name", "APP_NAME")
	viper.BindEnv("app.version", "APP_VERSION")
	viper.BindEnv("app.environment", "APP_ENVIRONMENT")
	viper.BindEnv("app.debug", "APP_DEBUG")

	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")
	viper.BindEnv("server.idle_timeout", "SERVER_IDLE_TIMEOUT")

	// Database
	viper.BindEnv("database.path", "DB_PATH")
	viper.BindEnv("database.busy_timeout", "DB_BUSY_TIMEOUT")

	// Supabase
	viper.BindEnv("supabase.url", "SUPABASE_URL")
	viper.BindEnv("supabase.anon_key", "SUPABASE_ANON_KEY")
	viper.BindEnv("supabase.snapshot_table", "SUPABASE_SNAPSHOT_TABLE")
	viper.BindEnv("supabase.timeout", "SUPABASE_TIMEOUT")

	// Sync
	viper.BindEnv("sync.throttle_window", "SYNC_THROTTLE_WINDOW")
	viper.BindEnv("sync.max_retries", "SYNC_MAX_RETRIES")
	viper.BindEnv("sync.retry_base_delay", "SYNC_RETRY_BASE_DELAY")
	viper.BindEnv("sync.retry_max_delay", "SYNC_RETRY_MAX_DELAY")
	viper.BindEnv("sync.debounce_interval", "SYNC_DEBOUNCE_INTERVAL")
	viper.BindEnv("sync.pending_wait_timeout", "SYNC_PENDING_WAIT_TIMEOUT")
	viper.BindEnv("sync.pending_poll_interval", "SYNC_PENDING_POLL_INTERVAL")
	viper.BindEnv("sync.error_display_time", "SYNC_ERROR_DISPLAY_TIME")
	viper.BindEnv("sync.sign_out_grace_delay", "SYNC_SIGN_OUT_GRACE_DELAY")

	// Logger
	viper.BindEnv("logger.level", "LOG_LEVEL")
	viper.BindEnv("logger.format", "LOG_FORMAT")
	viper.BindEnv("logger.output", "LOG_OUTPUT")

	// Security
	viper.BindEnv("security.cors_allowed_origins", "CORS_ALLOWED_ORIGINS")
	viper.BindEnv("security.rate_limit_requests", "RATE_LIMIT_REQUESTS")
	viper.BindEnv("security.rate_limit_window", "RATE_LIMIT_WINDOW")

	// Metrics
	viper.BindEnv("metrics.enabled", "ENABLE_METRICS")
}

func validateConfig(cfg *Config) error {
	if cfg.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	// One of URL/key alone is a misconfiguration; both empty is a valid
	// offline-only setup.
	if (cfg.Supabase.URL == "") != (cfg.Supabase.AnonKey == "") {
		return fmt.Errorf("supabase url and anon key must be set together")
	}

	if cfg.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync max retries must not be negative")
	}

	return nil
}

// DSN returns the SQLite connection string.
func (cfg *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		cfg.Path,
		cfg.BusyTimeout.Milliseconds(),
	)
}

// IsDevelopment returns true if the environment is development
func (cfg *AppConfig) IsDevelopment() bool {
	return cfg.Environment == "development"
}

// IsProduction returns true if the environment is production
func (cfg *AppConfig) IsProduction() bool {
	return cfg.Environment == "production"
}
