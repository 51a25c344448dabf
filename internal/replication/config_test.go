package replication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinic-backup-sync/internal/storage"
)

func TestDefaultReplicationConfig(t *testing.T) {
	config := DefaultReplicationConfig()
	assert.False(t, config.Enabled)
	assert.Equal(t, "0 */2 * * *", config.CronExpression)
	assert.Equal(t, SyncModeIncremental, config.SyncMode)
	assert.False(t, config.Target.IsConfigured())
	assert.NoError(t, config.Validate())
}

func TestReplicationConfigValidate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*ReplicationConfig)
		wantFields []string
	}{
		{
			name:   "enabled with schedule",
			mutate: func(c *ReplicationConfig) { c.Enabled = true },
		},
		{
			name: "disabled without schedule",
			mutate: func(c *ReplicationConfig) {
				c.CronExpression = ""
			},
		},
		{
			name: "enabled without schedule",
			mutate: func(c *ReplicationConfig) {
				c.Enabled = true
				c.CronExpression = ""
			},
			wantFields: []string{"cron_expression"},
		},
		{
			name:       "bad cron",
			mutate:     func(c *ReplicationConfig) { c.CronExpression = "0 0 0 * * *" },
			wantFields: []string{"cron_expression"},
		},
		{
			name:       "bad mode",
			mutate:     func(c *ReplicationConfig) { c.SyncMode = "mirror" },
			wantFields: []string{"sync_mode"},
		},
		{
			name:       "nested bucket",
			mutate:     func(c *ReplicationConfig) { c.Buckets = []string{"documents", "a/b", ".."} },
			wantFields: []string{"buckets", "buckets"},
		},
		{
			name: "incomplete target",
			mutate: func(c *ReplicationConfig) {
				c.Target = storage.TargetConfig{Provider: storage.ProviderGCS, GCS: &storage.GCSConfig{}}
			},
			wantFields: []string{"target.gcs.bucket"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultReplicationConfig()
			tt.mutate(config)

			err := config.Validate()
			if len(tt.wantFields) == 0 {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			validationErrs, ok := err.(storage.ValidationErrors)
			require.True(t, ok, "expected ValidationErrors, got %T", err)
			var fields []string
			for _, v := range validationErrs {
				fields = append(fields, v.Field)
			}
			assert.ElementsMatch(t, tt.wantFields, fields)
		})
	}
}

func TestSyncStatusApply(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	config := DefaultReplicationConfig()

	SyncStatus{At: at, Status: FailedStatus("remote target is not configured"), Files: 0}.Apply(config)

	require.NotNil(t, config.LastSyncAt)
	assert.True(t, config.LastSyncAt.Equal(at))
	assert.Equal(t, "FAILED: remote target is not configured", config.LastSyncStatus)

	SyncStatus{At: at, Status: StatusOK, Files: 12, Bytes: 4096}.Apply(config)
	assert.Equal(t, "OK", config.LastSyncStatus)
	assert.Equal(t, 12, config.LastSyncFiles)
	assert.Equal(t, int64(4096), config.LastSyncBytes)
}
