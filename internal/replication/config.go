package replication

import (
	"context"
	"fmt"
	"strings"
	"time"

	"clinic-backup-sync/internal/storage"
)

// SyncMode controls how a run decides which files to upload
type SyncMode string

const (
	// SyncModeIncremental uploads files missing remotely, changed in size, or newer locally
	SyncModeIncremental SyncMode = "incremental"
	// SyncModeFull uploads every file, overwriting remote copies
	SyncModeFull SyncMode = "full"
)

// DefaultCronExpression runs every two hours on the hour
const DefaultCronExpression = "0 */2 * * *"

// Status values recorded after a run
const (
	StatusOK           = "OK"
	statusFailedPrefix = "FAILED: "
)

// ReplicationConfig is the live, operator-editable replication setup.
// It is re-read on every scheduler wake and must not be cached.
type ReplicationConfig struct {
	Enabled        bool                 `yaml:"enabled" json:"enabled"`
	CronExpression string               `yaml:"cron_expression" json:"cron_expression"`
	SyncMode       SyncMode             `yaml:"sync_mode" json:"sync_mode"`
	SourceDir      string               `yaml:"source_dir" json:"source_dir"`
	Buckets        []string             `yaml:"buckets,omitempty" json:"buckets,omitempty"`
	Target         storage.TargetConfig `yaml:"target" json:"target"`

	LastSyncAt     *time.Time `yaml:"last_sync_at,omitempty" json:"last_sync_at,omitempty"`
	LastSyncStatus string     `yaml:"last_sync_status,omitempty" json:"last_sync_status,omitempty"`
	LastSyncFiles  int        `yaml:"last_sync_files,omitempty" json:"last_sync_files,omitempty"`
	LastSyncBytes  int64      `yaml:"last_sync_bytes,omitempty" json:"last_sync_bytes,omitempty"`
}

// DefaultReplicationConfig returns a disabled configuration with the default schedule
func DefaultReplicationConfig() *ReplicationConfig {
	return &ReplicationConfig{
		Enabled:        false,
		CronExpression: DefaultCronExpression,
		SyncMode:       SyncModeIncremental,
	}
}

// SetDefaults fills in empty fields
func (c *ReplicationConfig) SetDefaults() {
	if c.SyncMode == "" {
		c.SyncMode = SyncModeIncremental
	}
	c.Target.SetDefaults()
}

// Validate checks the fields an operator can edit. An enabled configuration
// needs a parsable schedule; a disabled one may be incomplete.
func (c *ReplicationConfig) Validate() error {
	var errors storage.ValidationErrors

	switch c.SyncMode {
	case SyncModeIncremental, SyncModeFull:
	default:
		errors.Add("sync_mode", "sync mode must be incremental or full", c.SyncMode)
	}

	if strings.TrimSpace(c.CronExpression) != "" {
		if _, err := ParseCron(c.CronExpression); err != nil {
			errors.Add("cron_expression", err.Error(), c.CronExpression)
		}
	} else if c.Enabled {
		errors.Add("cron_expression", "cron expression is required when replication is enabled", nil)
	}

	for _, bucket := range c.Buckets {
		if err := validateBucketName(bucket); err != nil {
			errors.Add("buckets", err.Error(), bucket)
		}
	}

	if c.Target.IsConfigured() {
		errors.Merge("target", c.Target.Validate())
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

func validateBucketName(bucket string) error {
	switch {
	case strings.TrimSpace(bucket) == "":
		return fmt.Errorf("bucket name must not be empty")
	case strings.ContainsAny(bucket, `/\`), bucket == ".", bucket == "..":
		return fmt.Errorf("bucket name %q must be a single directory name", bucket)
	}
	return nil
}

// SyncStatus is what a run leaves behind on the configuration record
type SyncStatus struct {
	At     time.Time
	Status string
	Files  int
	Bytes  int64
}

// Apply copies the status onto a configuration
func (s SyncStatus) Apply(c *ReplicationConfig) {
	at := s.At
	c.LastSyncAt = &at
	c.LastSyncStatus = s.Status
	c.LastSyncFiles = s.Files
	c.LastSyncBytes = s.Bytes
}

// FailedStatus renders the status string of an unsuccessful run
func FailedStatus(message string) string {
	return statusFailedPrefix + message
}

// BucketOutcome reports one bucket of a run
type BucketOutcome struct {
	Bucket  string `json:"bucket"`
	Success bool   `json:"success"`
	Objects int    `json:"objects"`
	Skipped int    `json:"skipped"`
	Bytes   int64  `json:"bytes"`
	Message string `json:"message,omitempty"`
}

// SyncOutcome is the structured result of one replication run
type SyncOutcome struct {
	Success     bool            `json:"success"`
	ObjectCount int             `json:"object_count"`
	Message     string          `json:"message"`
	RunID       string          `json:"run_id"`
	Bytes       int64           `json:"bytes"`
	Skipped     int             `json:"skipped"`
	Duration    time.Duration   `json:"duration"`
	Buckets     []BucketOutcome `json:"buckets,omitempty"`
}

// ConfigProvider supplies the current replication configuration.
// Implementations must be cheap enough to call on every scheduler wake.
type ConfigProvider interface {
	GetConfig(ctx context.Context) (*ReplicationConfig, error)
}

// ConfigUpdater applies a mutation to the stored configuration and returns the result
type ConfigUpdater interface {
	UpdateConfig(ctx context.Context, mutate func(*ReplicationConfig)) (*ReplicationConfig, error)
}

// StatusRecorder persists the outcome of a run
type StatusRecorder interface {
	RecordSync(ctx context.Context, status SyncStatus) error
}

// ConfigStore is a provider that can also be edited and record run status
type ConfigStore interface {
	ConfigProvider
	ConfigUpdater
	StatusRecorder
}

// SyncExecutor performs one replication run
type SyncExecutor interface {
	SyncNow(ctx context.Context) (*SyncOutcome, error)
}
