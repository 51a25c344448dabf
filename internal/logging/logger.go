package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet suppresses all output except errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows standard operational messages
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose shows detailed operational information
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows all debug information
	LogLevelDebug LogLevel = "debug"
)

type contextKey string

const runIDKey contextKey = "run_id"

// Logger provides structured logging capabilities
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Output     io.Writer
	Format     string // "text" or "json"
	ShowCaller bool
	LogFile    string
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	if config.Output != nil {
		logger.SetOutput(config.Output)
	} else {
		logger.SetOutput(os.Stderr)
	}

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	logger.SetLevel(toLogrusLevel(config.Level))

	if config.ShowCaller {
		logger.SetReportCaller(true)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := filepath.Base(f.File)
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filename, f.Line)
			},
		})
	}

	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}

		if config.Output == nil {
			logger.SetOutput(io.MultiWriter(os.Stderr, file))
		} else {
			logger.SetOutput(io.MultiWriter(config.Output, file))
		}
	}

	level := config.Level
	if level == "" {
		level = LogLevelNormal
	}

	return &Logger{
		logger: logger,
		level:  level,
	}, nil
}

// NewDefaultLogger creates a logger with default configuration
func NewDefaultLogger() *Logger {
	logger, _ := NewLogger(Config{
		Level:  LogLevelNormal,
		Output: os.Stderr,
		Format: "text",
	})
	return logger
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	logger, _ := NewLogger(Config{Level: LogLevelQuiet, Output: io.Discard})
	return logger
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case LogLevelQuiet:
		return logrus.ErrorLevel
	case LogLevelVerbose:
		return logrus.DebugLevel
	case LogLevelDebug:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// WithContext returns a logger with context fields
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.logger.WithContext(ctx)

	if runID := GetRunIDFromContext(ctx); runID != "" {
		entry = entry.WithField("run_id", runID)
	}

	return entry
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// WithField returns a logger with a single additional field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// WithError returns a logger carrying err under the "error" field
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.logger.WithError(err)
}

// Integrity logging

// LogChecksumStored logs a freshly written checksum sidecar
func (l *Logger) LogChecksumStored(fileName, digest string) {
	l.logger.WithFields(logrus.Fields{
		"operation": "checksum_store",
		"file":      fileName,
		"sha256":    digest,
	}).Debug("Checksum stored")
}

// LogVerification logs the outcome of an integrity check
func (l *Logger) LogVerification(path string, valid bool, reason string, duration time.Duration) {
	fields := logrus.Fields{
		"operation": "checksum_verify",
		"file":      filepath.Base(path),
		"valid":     valid,
		"duration":  duration.String(),
	}

	if valid {
		l.logger.WithFields(fields).Debug("Backup integrity verified")
		return
	}

	fields["reason"] = reason
	l.logger.WithFields(fields).Warn("Backup integrity check failed")
}

// Replication logging

// LogSyncRun logs a completed replication run
func (l *Logger) LogSyncRun(runID string, success bool, objects int, bytes int64, message string, duration time.Duration) {
	fields := logrus.Fields{
		"operation": "cloud_sync",
		"run_id":    runID,
		"success":   success,
		"objects":   objects,
		"bytes":     bytes,
		"duration":  duration.String(),
	}

	if success {
		l.logger.WithFields(fields).Infof("Cloud sync completed: %d objects", objects)
		return
	}

	fields["message"] = message
	l.logger.WithFields(fields).Errorf("Cloud sync failed: %s", message)
}

// LogConfigStoreConnection logs a connection to the replication config store
func (l *Logger) LogConfigStoreConnection(source, dsn string, success bool, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "config_store_connection",
		"source":    source,
		"dsn":       SanitizeDSN(dsn),
		"duration":  duration.String(),
		"success":   success,
	}

	if success {
		l.logger.WithFields(fields).Debug("Config store connection established")
		return
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.logger.WithFields(fields).Error("Config store connection failed")
}

// Standard logging methods

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.logger.Info(msg)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.logger.Debug(msg)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error(msg)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.logger.SetLevel(toLogrusLevel(level))
}

// IsLevelEnabled checks if a log level is enabled
func (l *Logger) IsLevelEnabled(level LogLevel) bool {
	switch level {
	case LogLevelQuiet:
		return l.logger.IsLevelEnabled(logrus.ErrorLevel)
	case LogLevelNormal:
		return l.logger.IsLevelEnabled(logrus.InfoLevel)
	case LogLevelVerbose:
		return l.logger.IsLevelEnabled(logrus.DebugLevel)
	case LogLevelDebug:
		return l.logger.IsLevelEnabled(logrus.TraceLevel)
	default:
		return false
	}
}

// LogOperationStart logs the start of an operation and returns a function to log completion
func (l *Logger) LogOperationStart(operation string, fields map[string]interface{}) func(error) {
	startTime := time.Now()

	logFields := logrus.Fields{
		"operation": operation,
		"status":    "started",
	}
	for k, v := range fields {
		logFields[k] = v
	}

	l.logger.WithFields(logFields).Debug("Operation started")

	return func(err error) {
		logFields["status"] = "completed"
		logFields["duration"] = time.Since(startTime).String()

		if err != nil {
			logFields["error"] = err.Error()
			logFields["success"] = false
			l.logger.WithFields(logFields).Error("Operation failed")
		} else {
			logFields["success"] = true
			l.logger.WithFields(logFields).Info("Operation completed")
		}
	}
}

// CreateContextWithRunID creates a context carrying a sync run ID for tracing
func CreateContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// GetRunIDFromContext extracts the run ID from context
func GetRunIDFromContext(ctx context.Context) string {
	if runID, ok := ctx.Value(runIDKey).(string); ok {
		return runID
	}
	return ""
}

// SanitizeDSN masks the password of a MySQL DSN (user:password@tcp(host)/db)
// and of key=value secrets such as password= or AccountKey= in connection strings.
func SanitizeDSN(dsn string) string {
	if at := strings.LastIndex(dsn, "@"); at != -1 {
		creds := dsn[:at]
		if colon := strings.Index(creds, ":"); colon != -1 {
			dsn = creds[:colon+1] + "***" + dsn[at:]
		}
	}

	for _, key := range []string{"password=", "PASSWORD=", "AccountKey="} {
		idx := strings.Index(dsn, key)
		if idx == -1 {
			continue
		}
		start := idx + len(key)
		end := strings.IndexAny(dsn[start:], " ;&")
		if end == -1 {
			end = len(dsn) - start
		}
		dsn = dsn[:start] + "***" + dsn[start+end:]
	}

	return dsn
}
