package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"clinic-backup-sync/internal/display"
	apperrors "clinic-backup-sync/internal/errors"
	"clinic-backup-sync/internal/logging"
)

// EnvPrefix is the prefix of environment variables that override settings,
// e.g. CBS_SCHEDULER_RETRY_INTERVAL=10m
const EnvPrefix = "CBS"

// Config source types
const (
	SourceFile  = "file"
	SourceMySQL = "mysql"
)

// AppConfig holds process-level settings. The replication settings
// themselves live in the config source so they can change at runtime.
type AppConfig struct {
	Logging      LoggingConfig         `mapstructure:"logging" yaml:"logging"`
	Display      display.DisplayConfig `mapstructure:"display" yaml:"display"`
	ConfigSource ConfigSourceConfig    `mapstructure:"config_source" yaml:"config_source"`
	Scheduler    SchedulerConfig       `mapstructure:"scheduler" yaml:"scheduler"`
	Sync         SyncConfig            `mapstructure:"sync" yaml:"sync"`
}

// LoggingConfig configures the process logger
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	ShowCaller bool   `mapstructure:"show_caller" yaml:"show_caller"`
}

// ConfigSourceConfig selects where the live replication config is stored
type ConfigSourceConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
	Path string `mapstructure:"path" yaml:"path"`
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
}

// SchedulerConfig tunes the replication scheduler loop
type SchedulerConfig struct {
	WarmUp        time.Duration `mapstructure:"warm_up" yaml:"warm_up"`
	RetryInterval time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	Location      string        `mapstructure:"location" yaml:"location"`
}

// SyncConfig tunes uploads
type SyncConfig struct {
	Parallelism int         `mapstructure:"parallelism" yaml:"parallelism"`
	Retry       RetryConfig `mapstructure:"retry" yaml:"retry"`
}

// RetryConfig configures upload retries
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier  float64       `mapstructure:"multiplier" yaml:"multiplier"`
}

// Default returns the configuration used when nothing is set
func Default() *AppConfig {
	retry := apperrors.DefaultRetryConfig()
	return &AppConfig{
		Logging: LoggingConfig{
			Level:  string(logging.LogLevelNormal),
			Format: "text",
		},
		Display: *display.DefaultDisplayConfig(),
		ConfigSource: ConfigSourceConfig{
			Type: SourceFile,
			Path: "replication.yaml",
		},
		Scheduler: SchedulerConfig{
			WarmUp:        60 * time.Second,
			RetryInterval: 5 * time.Minute,
			Location:      "UTC",
		},
		Sync: SyncConfig{
			Parallelism: 4,
			Retry: RetryConfig{
				MaxAttempts: retry.MaxAttempts,
				BaseDelay:   retry.BaseDelay,
				MaxDelay:    retry.MaxDelay,
				Multiplier:  retry.Multiplier,
			},
		},
	}
}

// Configure registers defaults and environment overrides on v. Every key
// gets a default so that AutomaticEnv can see it during Unmarshal.
func Configure(v *viper.Viper) {
	d := Default()

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.show_caller", d.Logging.ShowCaller)

	v.SetDefault("display.color_enabled", d.Display.ColorEnabled)
	v.SetDefault("display.theme", d.Display.Theme)
	v.SetDefault("display.output_format", d.Display.OutputFormat)
	v.SetDefault("display.use_icons", d.Display.UseIcons)
	v.SetDefault("display.quiet", d.Display.QuietMode)

	v.SetDefault("config_source.type", d.ConfigSource.Type)
	v.SetDefault("config_source.path", d.ConfigSource.Path)
	v.SetDefault("config_source.dsn", d.ConfigSource.DSN)

	v.SetDefault("scheduler.warm_up", d.Scheduler.WarmUp)
	v.SetDefault("scheduler.retry_interval", d.Scheduler.RetryInterval)
	v.SetDefault("scheduler.location", d.Scheduler.Location)

	v.SetDefault("sync.parallelism", d.Sync.Parallelism)
	v.SetDefault("sync.retry.max_attempts", d.Sync.Retry.MaxAttempts)
	v.SetDefault("sync.retry.base_delay", d.Sync.Retry.BaseDelay)
	v.SetDefault("sync.retry.max_delay", d.Sync.Retry.MaxDelay)
	v.SetDefault("sync.retry.multiplier", d.Sync.Retry.Multiplier)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load decodes, completes and validates the configuration held by v
func Load(v *viper.Viper) (*AppConfig, error) {
	config := Default()
	if err := v.Unmarshal(config); err != nil {
		return nil, apperrors.NewConfigurationError("failed to unmarshal configuration", err)
	}

	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, apperrors.NewConfigurationError("configuration validation failed", err)
	}
	return config, nil
}

// SetDefaults fills in unset values
func (c *AppConfig) SetDefaults() {
	d := Default()

	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	c.Display.SetDefaults()
	if c.ConfigSource.Type == "" {
		c.ConfigSource.Type = d.ConfigSource.Type
	}
	c.ConfigSource.Type = strings.ToLower(c.ConfigSource.Type)
	if c.ConfigSource.Type == SourceFile && c.ConfigSource.Path == "" {
		c.ConfigSource.Path = d.ConfigSource.Path
	}
	if c.Scheduler.RetryInterval == 0 {
		c.Scheduler.RetryInterval = d.Scheduler.RetryInterval
	}
	if c.Scheduler.Location == "" {
		c.Scheduler.Location = d.Scheduler.Location
	}
	if c.Sync.Parallelism == 0 {
		c.Sync.Parallelism = d.Sync.Parallelism
	}
	if c.Sync.Retry.MaxAttempts == 0 {
		c.Sync.Retry.MaxAttempts = d.Sync.Retry.MaxAttempts
	}
	if c.Sync.Retry.Multiplier == 0 {
		c.Sync.Retry.Multiplier = d.Sync.Retry.Multiplier
	}
}

// Validate checks every section and reports all problems at once
func (c *AppConfig) Validate() error {
	var errs []error

	switch logging.LogLevel(c.Logging.Level) {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		errs = append(errs, fmt.Errorf("logging.level: invalid level '%s', must be one of: quiet, normal, verbose, debug", c.Logging.Level))
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("logging.format: invalid format '%s', must be text or json", c.Logging.Format))
	}

	if err := c.Display.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("display: %w", err))
	}

	switch c.ConfigSource.Type {
	case SourceFile:
		if c.ConfigSource.Path == "" {
			errs = append(errs, errors.New("config_source.path is required for the file source"))
		}
	case SourceMySQL:
		if c.ConfigSource.DSN == "" {
			errs = append(errs, errors.New("config_source.dsn is required for the mysql source"))
		}
	default:
		errs = append(errs, fmt.Errorf("config_source.type: invalid type '%s', must be file or mysql", c.ConfigSource.Type))
	}

	if c.Scheduler.WarmUp < 0 {
		errs = append(errs, errors.New("scheduler.warm_up cannot be negative"))
	}
	if c.Scheduler.RetryInterval <= 0 {
		errs = append(errs, errors.New("scheduler.retry_interval must be positive"))
	}
	if _, err := time.LoadLocation(c.Scheduler.Location); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.location: %w", err))
	}

	if c.Sync.Parallelism < 1 {
		errs = append(errs, errors.New("sync.parallelism must be at least 1"))
	}
	if c.Sync.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("sync.retry.max_attempts must be at least 1"))
	}
	if c.Sync.Retry.BaseDelay < 0 || c.Sync.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("sync.retry delays cannot be negative"))
	}
	if c.Sync.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("sync.retry.multiplier must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%v", errs)
	}
	return nil
}

// LoggerConfig converts the logging section for logging.NewLogger
func (c *AppConfig) LoggerConfig() logging.Config {
	return logging.Config{
		Level:      logging.LogLevel(c.Logging.Level),
		Format:     c.Logging.Format,
		LogFile:    c.Logging.File,
		ShowCaller: c.Logging.ShowCaller,
	}
}

// SchedulerLocation returns the time zone cron expressions are evaluated in
func (c *AppConfig) SchedulerLocation() (*time.Location, error) {
	return time.LoadLocation(c.Scheduler.Location)
}

// RetryConfig converts the sync retry section for the retry handler
func (c *AppConfig) RetryConfig() apperrors.RetryConfig {
	return apperrors.RetryConfig{
		MaxAttempts: c.Sync.Retry.MaxAttempts,
		BaseDelay:   c.Sync.Retry.BaseDelay,
		MaxDelay:    c.Sync.Retry.MaxDelay,
		Multiplier:  c.Sync.Retry.Multiplier,
	}
}
