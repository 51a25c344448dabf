package display

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"clinic-backup-sync/internal/integrity"
	"clinic-backup-sync/internal/replication"
	"clinic-backup-sync/internal/storage"
)

func newTestPrinter(format OutputFormat) (*Printer, *bytes.Buffer) {
	var buf bytes.Buffer
	printer := NewPrinter(&DisplayConfig{
		ColorEnabled: false,
		UseIcons:     false,
		OutputFormat: string(format),
		Writer:       &buf,
	})
	return printer, &buf
}

func TestDisplayConfigValidate(t *testing.T) {
	config := DefaultDisplayConfig()
	assert.NoError(t, config.Validate())

	config.Theme = "neon"
	config.OutputFormat = "xml"
	err := config.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid theme")
	assert.Contains(t, err.Error(), "invalid output format")

	var empty DisplayConfig
	empty.SetDefaults()
	assert.Equal(t, string(ThemeDark), empty.Theme)
	assert.Equal(t, string(FormatTable), empty.OutputFormat)
	assert.NotNil(t, empty.Writer)
}

func TestColorSystemDisabled(t *testing.T) {
	cs := NewColorSystem(DarkColorTheme(), false)
	assert.False(t, cs.IsColorSupported())
	assert.Equal(t, "plain", cs.Colorize("plain", ColorBrightRed))
	assert.Equal(t, "3 files", cs.Sprintf(ColorGreen, "%d files", 3))
	assert.Equal(t, DarkColorTheme(), cs.GetTheme())
}

func TestGetThemeByName(t *testing.T) {
	assert.Equal(t, LightColorTheme(), GetThemeByName("light"))
	assert.Equal(t, HighContrastColorTheme(), GetThemeByName("high-contrast"))
	assert.Equal(t, PlainTextTheme(), GetThemeByName("plain"))
	assert.Equal(t, DarkColorTheme(), GetThemeByName("unknown"))
}

func TestIconSet(t *testing.T) {
	assert.Equal(t, "", NewIconSet(false).Render("success"))

	ascii := &IconSet{enabled: true, unicode: false}
	assert.Equal(t, "[OK] ", ascii.Render("success"))
	assert.Equal(t, "", ascii.Render("no-such-icon"))

	unicode := &IconSet{enabled: true, unicode: true}
	assert.Equal(t, "✓ ", unicode.Render("success"))
}

func TestPrinter_Verifications(t *testing.T) {
	paths := []string{"a.tar", "b.tar"}
	outcomes := []*integrity.VerificationOutcome{
		{Valid: true, Expected: "aa", Actual: "aa"},
		{Valid: false, Reason: integrity.ReasonChecksumNotFound},
	}

	printer, buf := newTestPrinter(FormatTable)
	require.NoError(t, printer.PrintVerifications(paths, outcomes))
	assert.Equal(t, "a.tar: OK\nb.tar: checksum file not found\n", buf.String())

	printer, buf = newTestPrinter(FormatJSON)
	require.NoError(t, printer.PrintVerifications(paths, outcomes))
	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, true, decoded[0]["valid"])
	assert.Equal(t, "checksum file not found", decoded[1]["reason"])
	_, hasExpected := decoded[1]["expected"]
	assert.False(t, hasExpected)

	printer, buf = newTestPrinter(FormatCompact)
	require.NoError(t, printer.PrintVerifications(paths, outcomes))
	assert.Equal(t, "OK\ta.tar\t\nFAILED\tb.tar\tchecksum file not found\n", buf.String())
}

func TestPrinter_Digest(t *testing.T) {
	printer, buf := newTestPrinter(FormatTable)
	require.NoError(t, printer.PrintDigest("backup.tar", "2cf24dba"))
	assert.Equal(t, "2cf24dba  backup.tar\n", buf.String())

	printer, buf = newTestPrinter(FormatYAML)
	require.NoError(t, printer.PrintDigest("backup.tar", "2cf24dba"))
	var decoded map[string]string
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "2cf24dba", decoded["sha256"])
}

func TestPrinter_Artifacts(t *testing.T) {
	modified := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	artifacts := []integrity.ArtifactInfo{
		{FileName: "backup-2024.tar", SizeBytes: 2048, ModifiedAt: modified,
			Checksum: "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"},
		{FileName: "notes.txt", SizeBytes: 10, ModifiedAt: modified},
	}

	printer, buf := newTestPrinter(FormatTable)
	require.NoError(t, printer.PrintArtifacts(artifacts))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Contains(t, lines[1], "2.0 KiB")
	assert.Contains(t, lines[1], "2cf24dba5fb0a30e…")
	assert.Contains(t, lines[2], "-")

	printer, buf = newTestPrinter(FormatTable)
	require.NoError(t, printer.PrintArtifacts(nil))
	assert.Equal(t, "No backups found\n", buf.String())
}

func TestPrinter_SyncOutcome(t *testing.T) {
	outcome := &replication.SyncOutcome{
		Success:     false,
		ObjectCount: 2,
		Message:     "xrays: source directory does not exist",
		RunID:       "run-1",
		Duration:    1500 * time.Millisecond,
		Buckets: []replication.BucketOutcome{
			{Bucket: "documents", Success: true, Objects: 2, Bytes: 10},
			{Bucket: "xrays", Success: false, Message: "source directory does not exist"},
		},
	}

	printer, buf := newTestPrinter(FormatTable)
	require.NoError(t, printer.PrintSyncOutcome(outcome))
	out := buf.String()
	assert.Contains(t, out, "Sync failed: xrays: source directory does not exist")
	assert.Contains(t, out, "BUCKET")
	assert.Contains(t, out, "FAILED")

	printer, buf = newTestPrinter(FormatJSON)
	require.NoError(t, printer.PrintSyncOutcome(outcome))
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "1.5s", decoded["duration"])
	assert.Equal(t, "run-1", decoded["run_id"])
}

func TestPrinter_ReplicationStatus(t *testing.T) {
	config := replication.DefaultReplicationConfig()
	config.Enabled = true
	config.SourceDir = "/var/backups"
	config.Target = storage.TargetConfig{Provider: storage.ProviderS3, Prefix: "clinic-a"}
	next := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	printer, buf := newTestPrinter(FormatTable)
	require.NoError(t, printer.PrintReplicationStatus(config, next, true))
	out := buf.String()
	assert.Contains(t, out, "enabled")
	assert.Contains(t, out, "0 */2 * * *")
	assert.Contains(t, out, "s3 (prefix clinic-a)")
	assert.Contains(t, out, "2024-05-01 12:00 UTC")
	assert.Contains(t, out, "(whole directory)")

	printer, buf = newTestPrinter(FormatJSON)
	require.NoError(t, printer.PrintReplicationStatus(replication.DefaultReplicationConfig(), time.Time{}, false))
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, false, decoded["enabled"])
	assert.Equal(t, "not configured", decoded["target"])
	_, hasNext := decoded["next_run"]
	assert.False(t, hasNext)
}

func TestPrinter_NextRuns(t *testing.T) {
	printer, buf := newTestPrinter(FormatTable)
	require.NoError(t, printer.PrintNextRuns("0 0 30 2 *", nil))
	assert.Contains(t, buf.String(), "never fires")
}

func TestPrinter_TargetCheck(t *testing.T) {
	printer, buf := newTestPrinter(FormatTable)
	require.NoError(t, printer.PrintTargetCheck("local", "file:///mnt/offsite", 1500*time.Microsecond, nil))
	assert.Contains(t, buf.String(), "local target file:///mnt/offsite is reachable and writable (2ms)")

	printer, buf = newTestPrinter(FormatJSON)
	failure := errors.New("AccessDenied: Access Denied")
	require.NoError(t, printer.PrintTargetCheck("s3", "s3://clinic-backups", time.Second, failure))

	var view map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &view))
	assert.Equal(t, false, view["healthy"])
	assert.Equal(t, "s3://clinic-backups", view["location"])
	assert.Equal(t, failure.Error(), view["error"])
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{3 * 1024 * 1024 * 1024, "3.0 GiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in))
	}
}
