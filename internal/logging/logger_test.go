package logging

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   LogLevel
	}{
		{
			name:   "default config",
			config: Config{Level: LogLevelNormal, Format: "text"},
			want:   LogLevelNormal,
		},
		{
			name:   "verbose config",
			config: Config{Level: LogLevelVerbose, Format: "json"},
			want:   LogLevelVerbose,
		},
		{
			name:   "quiet config",
			config: Config{Level: LogLevelQuiet, Format: "text"},
			want:   LogLevelQuiet,
		},
		{
			name:   "empty level falls back to normal",
			config: Config{Format: "text"},
			want:   LogLevelNormal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf

			logger, err := NewLogger(tt.config)
			if err != nil {
				t.Errorf("NewLogger() error = %v", err)
				return
			}

			if logger.GetLevel() != tt.want {
				t.Errorf("NewLogger() level = %v, want %v", logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestNewLoggerWithLogFile(t *testing.T) {
	var buf bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "sync.log")

	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, LogFile: logFile})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Info("written twice")

	if !strings.Contains(buf.String(), "written twice") {
		t.Errorf("Expected output writer to receive message, got: %s", buf.String())
	}

	_, err = NewLogger(Config{LogFile: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	if err == nil {
		t.Error("Expected error for unwritable log file")
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelVerbose, Output: &buf, Format: "text"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.WithFields(map[string]interface{}{
		"bucket":  "documents",
		"objects": 42,
	}).Info("test message")

	output := buf.String()
	if !strings.Contains(output, "bucket=documents") {
		t.Errorf("Expected output to contain bucket=documents, got: %s", output)
	}
	if !strings.Contains(output, "objects=42") {
		t.Errorf("Expected output to contain objects=42, got: %s", output)
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelVerbose, Output: &buf, Format: "text"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	ctx := CreateContextWithRunID(context.Background(), "run-123")
	logger.WithContext(ctx).Info("test message with context")

	if !strings.Contains(buf.String(), "run_id=run-123") {
		t.Errorf("Expected output to contain run_id=run-123, got: %s", buf.String())
	}

	if got := GetRunIDFromContext(context.Background()); got != "" {
		t.Errorf("Expected empty run ID, got %q", got)
	}
}

func TestLogChecksumStored(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelVerbose, Output: &buf})

	logger.LogChecksumStored("backup-2024.tar", "2cf24dba")

	output := buf.String()
	if !strings.Contains(output, "operation=checksum_store") {
		t.Errorf("Expected checksum_store operation, got: %s", output)
	}
	if !strings.Contains(output, "file=backup-2024.tar") {
		t.Errorf("Expected file field, got: %s", output)
	}

	buf.Reset()
	logger.SetLevel(LogLevelNormal)
	logger.LogChecksumStored("backup-2024.tar", "2cf24dba")
	if buf.Len() != 0 {
		t.Errorf("Expected debug entry to be suppressed at normal level, got: %s", buf.String())
	}
}

func TestLogVerification(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf})

	logger.LogVerification("/backups/db.tar", true, "", time.Millisecond)
	if buf.Len() != 0 {
		t.Errorf("Expected successful verification to log at debug level, got: %s", buf.String())
	}

	logger.LogVerification("/backups/db.tar", false, "checksum file not found", time.Millisecond)
	output := buf.String()
	if !strings.Contains(output, "level=warning") {
		t.Errorf("Expected warning for failed verification, got: %s", output)
	}
	if !strings.Contains(output, "checksum file not found") {
		t.Errorf("Expected reason in output, got: %s", output)
	}
}

func TestLogSyncRun(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf})

	logger.LogSyncRun("run-1", true, 12, 2048, "", time.Second)
	if !strings.Contains(buf.String(), "Cloud sync completed: 12 objects") {
		t.Errorf("Expected success message, got: %s", buf.String())
	}

	buf.Reset()
	logger.LogSyncRun("run-2", false, 0, 0, "remote target is not configured", time.Second)
	output := buf.String()
	if !strings.Contains(output, "level=error") {
		t.Errorf("Expected error level, got: %s", output)
	}
	if !strings.Contains(output, "remote target is not configured") {
		t.Errorf("Expected failure message, got: %s", output)
	}
}

func TestLogConfigStoreConnection(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: &buf})

	logger.LogConfigStoreConnection("mysql", "app:secret@tcp(db:3306)/clinic", false, time.Second, errors.New("refused"))

	output := buf.String()
	if strings.Contains(output, "secret") {
		t.Errorf("Expected password to be masked, got: %s", output)
	}
	if !strings.Contains(output, "error=refused") {
		t.Errorf("Expected error field, got: %s", output)
	}
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		level     LogLevel
		logFunc   func(*Logger)
		shouldLog bool
	}{
		{"quiet level blocks info", LogLevelQuiet, func(l *Logger) { l.Info("x") }, false},
		{"quiet level allows error", LogLevelQuiet, func(l *Logger) { l.Error("x") }, true},
		{"normal level allows info", LogLevelNormal, func(l *Logger) { l.Info("x") }, true},
		{"normal level blocks debug", LogLevelNormal, func(l *Logger) { l.Debug("x") }, false},
		{"verbose level allows debug", LogLevelVerbose, func(l *Logger) { l.Debugf("%s", "x") }, true},
		{"normal level allows warn", LogLevelNormal, func(l *Logger) { l.Warnf("%d", 1) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := NewLogger(Config{Level: tt.level, Output: &buf, Format: "text"})
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}

			tt.logFunc(logger)

			hasOutput := buf.Len() > 0
			if hasOutput != tt.shouldLog {
				t.Errorf("Expected shouldLog=%v, got output=%v (output: %s)", tt.shouldLog, hasOutput, buf.String())
			}
		})
	}
}

func TestIsLevelEnabled(t *testing.T) {
	logger, _ := NewLogger(Config{Level: LogLevelVerbose, Output: &bytes.Buffer{}})

	if !logger.IsLevelEnabled(LogLevelVerbose) {
		t.Error("Expected verbose to be enabled")
	}
	if logger.IsLevelEnabled(LogLevelDebug) {
		t.Error("Expected debug to be disabled at verbose level")
	}
	if logger.IsLevelEnabled(LogLevel("bogus")) {
		t.Error("Expected unknown level to be disabled")
	}
}

func TestLogOperationStart(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelVerbose, Output: &buf, Format: "text"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	complete := logger.LogOperationStart("verify_directory", map[string]interface{}{"dir": "/backups"})
	complete(nil)

	output := buf.String()
	if !strings.Contains(output, "Operation started") {
		t.Errorf("Expected start message, got: %s", output)
	}
	if !strings.Contains(output, "Operation completed") {
		t.Errorf("Expected completion message, got: %s", output)
	}

	buf.Reset()
	complete = logger.LogOperationStart("verify_directory", nil)
	complete(errors.New("boom"))
	if !strings.Contains(buf.String(), "Operation failed") {
		t.Errorf("Expected failure message, got: %s", buf.String())
	}
}

func TestSanitizeDSN(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "mysql dsn",
			input:    "app:s3cr3t@tcp(localhost:3306)/clinic?parseTime=true",
			expected: "app:***@tcp(localhost:3306)/clinic?parseTime=true",
		},
		{
			name:     "dsn without password",
			input:    "app@tcp(localhost:3306)/clinic",
			expected: "app@tcp(localhost:3306)/clinic",
		},
		{
			name:     "key value password",
			input:    "host=db password=hunter2 user=app",
			expected: "host=db password=*** user=app",
		},
		{
			name:     "azure connection string",
			input:    "AccountName=clinic;AccountKey=abc123==;EndpointSuffix=core.windows.net",
			expected: "AccountName=clinic;AccountKey=***;EndpointSuffix=core.windows.net",
		},
		{
			name:     "nothing to mask",
			input:    "/var/lib/clinic/replication.yaml",
			expected: "/var/lib/clinic/replication.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeDSN(tt.input); got != tt.expected {
				t.Errorf("SanitizeDSN() = %q, want %q", got, tt.expected)
			}
		})
	}
}
