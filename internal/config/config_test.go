package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "clinic-backup-sync/internal/errors"
	"clinic-backup-sync/internal/logging"
)

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	Configure(v)

	config, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "normal", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)
	assert.Equal(t, SourceFile, config.ConfigSource.Type)
	assert.Equal(t, "replication.yaml", config.ConfigSource.Path)
	assert.Equal(t, 60*time.Second, config.Scheduler.WarmUp)
	assert.Equal(t, 5*time.Minute, config.Scheduler.RetryInterval)
	assert.Equal(t, "UTC", config.Scheduler.Location)
	assert.Equal(t, 4, config.Sync.Parallelism)
	assert.Equal(t, apperrors.DefaultRetryConfig(), config.RetryConfig())
	assert.Equal(t, "table", config.Display.OutputFormat)
	assert.NotNil(t, config.Display.Writer)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cbs.yaml")
	content := `
logging:
  level: debug
  format: json
config_source:
  type: mysql
  dsn: "backup:secret@tcp(db:3306)/clinic?parseTime=true"
scheduler:
  warm_up: 5s
  retry_interval: 1m
  location: Europe/Istanbul
sync:
  parallelism: 8
  retry:
    max_attempts: 5
    base_delay: 500ms
display:
  output_format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	v := viper.New()
	Configure(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	config, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, SourceMySQL, config.ConfigSource.Type)
	assert.Contains(t, config.ConfigSource.DSN, "tcp(db:3306)")
	assert.Equal(t, 5*time.Second, config.Scheduler.WarmUp)
	assert.Equal(t, time.Minute, config.Scheduler.RetryInterval)
	assert.Equal(t, 8, config.Sync.Parallelism)
	assert.Equal(t, 5, config.Sync.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, config.Sync.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, config.Sync.Retry.MaxDelay)
	assert.Equal(t, "json", config.Display.OutputFormat)

	location, err := config.SchedulerLocation()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Istanbul", location.String())

	loggerConfig := config.LoggerConfig()
	assert.Equal(t, logging.LogLevelDebug, loggerConfig.Level)
	assert.Equal(t, "json", loggerConfig.Format)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("CBS_SCHEDULER_RETRY_INTERVAL", "30s")
	t.Setenv("CBS_CONFIG_SOURCE_PATH", "/etc/cbs/replication.yaml")
	t.Setenv("CBS_SYNC_PARALLELISM", "2")

	v := viper.New()
	Configure(v)

	config, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, config.Scheduler.RetryInterval)
	assert.Equal(t, "/etc/cbs/replication.yaml", config.ConfigSource.Path)
	assert.Equal(t, 2, config.Sync.Parallelism)
}

func TestAppConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*AppConfig) {},
		},
		{
			name:    "unknown log level",
			mutate:  func(c *AppConfig) { c.Logging.Level = "trace" },
			wantErr: "logging.level",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *AppConfig) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "unknown source type",
			mutate:  func(c *AppConfig) { c.ConfigSource.Type = "etcd" },
			wantErr: "config_source.type",
		},
		{
			name:    "mysql without dsn",
			mutate:  func(c *AppConfig) { c.ConfigSource.Type = SourceMySQL },
			wantErr: "config_source.dsn",
		},
		{
			name:    "file without path",
			mutate:  func(c *AppConfig) { c.ConfigSource.Path = "" },
			wantErr: "config_source.path",
		},
		{
			name:    "negative warm-up",
			mutate:  func(c *AppConfig) { c.Scheduler.WarmUp = -time.Second },
			wantErr: "scheduler.warm_up",
		},
		{
			name:    "unknown location",
			mutate:  func(c *AppConfig) { c.Scheduler.Location = "Mars/Olympus" },
			wantErr: "scheduler.location",
		},
		{
			name:    "zero parallelism",
			mutate:  func(c *AppConfig) { c.Sync.Parallelism = 0 },
			wantErr: "sync.parallelism",
		},
		{
			name:    "multiplier below one",
			mutate:  func(c *AppConfig) { c.Sync.Retry.Multiplier = 0.5 },
			wantErr: "sync.retry.multiplier",
		},
		{
			name:    "invalid display format",
			mutate:  func(c *AppConfig) { c.Display.OutputFormat = "xml" },
			wantErr: "display",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)

			err := config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_InvalidConfigIsConfigurationError(t *testing.T) {
	v := viper.New()
	Configure(v)
	v.Set("config_source.type", "etcd")

	_, err := Load(v)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeConfiguration, apperrors.GetErrorType(err))
}

func TestSetDefaults_FillsZeroValues(t *testing.T) {
	var config AppConfig
	config.SetDefaults()

	assert.Equal(t, "normal", config.Logging.Level)
	assert.Equal(t, SourceFile, config.ConfigSource.Type)
	assert.Equal(t, "replication.yaml", config.ConfigSource.Path)
	assert.Equal(t, 5*time.Minute, config.Scheduler.RetryInterval)
	assert.Equal(t, time.Duration(0), config.Scheduler.WarmUp)
	assert.Equal(t, 4, config.Sync.Parallelism)
	assert.NoError(t, config.Validate())
}
