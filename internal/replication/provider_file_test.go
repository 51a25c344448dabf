package replication

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "clinic-backup-sync/internal/errors"
	"clinic-backup-sync/internal/storage"
)

func TestFileConfigProvider_MissingFileGivesDefaults(t *testing.T) {
	provider := NewFileConfigProvider(filepath.Join(t.TempDir(), "replication.yaml"))

	config, err := provider.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultReplicationConfig(), config)
}

func TestFileConfigProvider_ReadsEditsOnEveryCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replication.yaml")
	provider := NewFileConfigProvider(path)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(path, []byte("enabled: false\ncron_expression: \"0 3 * * *\"\n"), 0600))
	config, err := provider.GetConfig(ctx)
	require.NoError(t, err)
	assert.False(t, config.Enabled)
	assert.Equal(t, "0 3 * * *", config.CronExpression)
	assert.Equal(t, SyncModeIncremental, config.SyncMode)

	yaml := `enabled: true
cron_expression: "*/30 * * * *"
sync_mode: full
source_dir: /var/backups/clinic
buckets: [documents, images]
target:
  provider: local
  prefix: clinic-a
  local:
    base_path: /mnt/offsite
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	config, err = provider.GetConfig(ctx)
	require.NoError(t, err)
	assert.True(t, config.Enabled)
	assert.Equal(t, "*/30 * * * *", config.CronExpression)
	assert.Equal(t, SyncModeFull, config.SyncMode)
	assert.Equal(t, []string{"documents", "images"}, config.Buckets)
	assert.Equal(t, storage.ProviderLocal, config.Target.Provider)
	require.NotNil(t, config.Target.Local)
	assert.Equal(t, "/mnt/offsite", config.Target.Local.BasePath)
}

func TestFileConfigProvider_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replication.yaml")
	require.NoError(t, os.WriteFile(path, []byte("enabled: [unterminated"), 0600))

	_, err := NewFileConfigProvider(path).GetConfig(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeFormat, apperrors.GetErrorType(err))
}

func TestFileConfigProvider_UpdateConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "replication.yaml")
	provider := NewFileConfigProvider(path)
	ctx := context.Background()

	updated, err := provider.UpdateConfig(ctx, func(c *ReplicationConfig) {
		c.Enabled = true
		c.CronExpression = "15 1 * * *"
	})
	require.NoError(t, err)
	assert.True(t, updated.Enabled)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reread, err := provider.GetConfig(ctx)
	require.NoError(t, err)
	assert.True(t, reread.Enabled)
	assert.Equal(t, "15 1 * * *", reread.CronExpression)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileConfigProvider_UpdateConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replication.yaml")
	provider := NewFileConfigProvider(path)
	ctx := context.Background()

	_, err := provider.UpdateConfig(ctx, func(c *ReplicationConfig) { c.CronExpression = "0 3 * * *" })
	require.NoError(t, err)

	_, err = provider.UpdateConfig(ctx, func(c *ReplicationConfig) { c.CronExpression = "whenever" })
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetErrorType(err))

	config, err := provider.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0 3 * * *", config.CronExpression)
}

func TestFileConfigProvider_RecordSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replication.yaml")
	provider := NewFileConfigProvider(path)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, provider.RecordSync(ctx, SyncStatus{At: at, Status: StatusOK, Files: 7, Bytes: 2048}))

	config, err := provider.GetConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, config.LastSyncAt)
	assert.True(t, config.LastSyncAt.Equal(at))
	assert.Equal(t, "OK", config.LastSyncStatus)
	assert.Equal(t, 7, config.LastSyncFiles)
	assert.Equal(t, int64(2048), config.LastSyncBytes)
	assert.Equal(t, DefaultCronExpression, config.CronExpression)
}

func TestFileConfigProvider_Canceled(t *testing.T) {
	provider := NewFileConfigProvider(filepath.Join(t.TempDir(), "replication.yaml"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := provider.GetConfig(ctx)
	assert.True(t, apperrors.IsCancellation(err))
}
