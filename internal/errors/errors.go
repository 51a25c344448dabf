package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeIO represents file read/write failures
	ErrorTypeIO ErrorType = "io"
	// ErrorTypeFormat represents unparsable persisted data
	ErrorTypeFormat ErrorType = "format"
	// ErrorTypeConfiguration represents missing or invalid configuration
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeStorage represents remote object storage failures
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeSync represents replication failures
	ErrorTypeSync ErrorType = "sync"
	// ErrorTypeConnection represents connection errors (config store, remote endpoints)
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypePermission represents permission/access errors
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInterruption represents cancellation and shutdown
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsRecoverable returns whether the error is recoverable
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: false,
	}
}

// NewRecoverableError creates a new recoverable error
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: true,
	}
}

// NewIOError creates an error for an unreadable or unwritable file
func NewIOError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeIO, message, cause)
}

// NewCancelledError wraps a context error observed during an operation
func NewCancelledError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeInterruption, message, cause)
}

// NewConfigurationError creates an error for invalid configuration
func NewConfigurationError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeConfiguration, message, cause)
}

// NewStorageError creates a recoverable error for a remote storage failure
func NewStorageError(message string, cause error) *AppError {
	return NewRecoverableError(ErrorTypeStorage, message, cause)
}

// NewSyncError creates an error for a failed replication step
func NewSyncError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeSync, message, cause)
}

// IsCancellation reports whether err is (or wraps) a cancellation rather than a failure.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == ErrorTypeInterruption
	}
	return false
}

// ErrorClassifier provides methods to classify and handle different types of errors
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an AppError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	// Check if it's already an AppError
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	// Classify MySQL errors
	if mysqlErr := ec.classifyMySQLError(err); mysqlErr != nil {
		return mysqlErr
	}

	// Classify context errors before network errors: a deadline is also a net.Error
	if ctxErr := ec.classifyContextError(err); ctxErr != nil {
		return ctxErr
	}

	// Classify network errors
	if netErr := ec.classifyNetworkError(err); netErr != nil {
		return netErr
	}

	// Classify file system errors
	if fsErr := ec.classifyFileSystemError(err); fsErr != nil {
		return fsErr
	}

	// Default to unknown error
	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

// classifyMySQLError classifies errors from the replication config store
func (ec *ErrorClassifier) classifyMySQLError(err error) *AppError {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1045: // Access denied
			return NewAppError(ErrorTypePermission,
				"Config store access denied - check username and password", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1049: // Unknown database
			return NewAppError(ErrorTypeConfiguration,
				"Config store database does not exist", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1146: // Table doesn't exist
			return NewAppError(ErrorTypeConfiguration,
				"Replication config table does not exist", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1205, 1213: // Lock wait timeout, deadlock
			return NewRecoverableError(ErrorTypeConnection,
				"Config store row is locked - retrying", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 2003: // Can't connect to MySQL server
			return NewRecoverableError(ErrorTypeConnection,
				"Cannot connect to config store - server may be down or unreachable", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 2006: // MySQL server has gone away
			return NewRecoverableError(ErrorTypeConnection,
				"Config store connection lost - attempting to reconnect", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		default:
			return NewAppError(ErrorTypeConnection,
				fmt.Sprintf("Config store error: %s", mysqlErr.Message), err).
				WithContext("mysql_error_code", mysqlErr.Number)
		}
	}

	if errors.Is(err, sql.ErrConnDone) {
		return NewRecoverableError(ErrorTypeConnection, "Config store connection is closed", err)
	}

	return nil
}

// classifyNetworkError classifies network-related errors
func (ec *ErrorClassifier) classifyNetworkError(err error) *AppError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout,
			"Network operation timed out", err)
	}

	// Check for specific network error types
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewRecoverableError(ErrorTypeConnection,
				"Failed to establish network connection", err)
		case "read", "write":
			return NewRecoverableError(ErrorTypeConnection,
				"Network I/O error", err)
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.Temporary() {
		return NewRecoverableError(ErrorTypeConnection,
			"Temporary DNS failure", err)
	}

	return nil
}

// classifyContextError classifies context-related errors
func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRecoverableError(ErrorTypeTimeout,
			"Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption,
			"Operation was canceled", err)
	}

	return nil
}

// classifyFileSystemError classifies file system errors
func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.ENOENT:
			return NewAppError(ErrorTypeIO,
				fmt.Sprintf("File or directory not found: %s", pathErr.Path), err)
		case syscall.EACCES:
			return NewAppError(ErrorTypePermission,
				fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		case syscall.ENOSPC:
			return NewAppError(ErrorTypeIO,
				"No space left on device", err)
		default:
			return NewAppError(ErrorTypeIO,
				fmt.Sprintf("File system error: %s", pathErr.Path), err)
		}
	}

	return nil
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler provides retry functionality for operations
type RetryHandler struct {
	config     RetryConfig
	classifier *ErrorClassifier
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(config RetryConfig) *RetryHandler {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &RetryHandler{
		config:     config,
		classifier: NewErrorClassifier(),
	}
}

// NewDefaultRetryHandler creates a retry handler with default configuration
func NewDefaultRetryHandler() *RetryHandler {
	return NewRetryHandler(DefaultRetryConfig())
}

// Retry executes a function with retry logic for recoverable errors
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		// Check if context is canceled
		select {
		case <-ctx.Done():
			return NewCancelledError("Operation canceled", ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			return nil // Success
		}

		lastErr = err
		appErr := rh.classifier.ClassifyError(err)

		// If error is not recoverable, don't retry
		if !appErr.IsRecoverable() {
			return appErr
		}

		// Don't retry on the last attempt
		if attempt == rh.config.MaxAttempts {
			break
		}

		// Calculate delay with exponential backoff
		delay := rh.calculateDelay(attempt)

		// Wait before retrying
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return NewCancelledError("Operation canceled during retry", ctx.Err())
		case <-timer.C:
			// Continue to next attempt
		}
	}

	// All attempts failed
	return rh.classifier.ClassifyError(lastErr).
		WithContext("attempts", rh.config.MaxAttempts)
}

// calculateDelay calculates the delay for a given attempt using exponential backoff
func (rh *RetryHandler) calculateDelay(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rh.config.Multiplier
	}

	delay := time.Duration(float64(rh.config.BaseDelay) * multiplier)

	if rh.config.MaxDelay > 0 && delay > rh.config.MaxDelay {
		delay = rh.config.MaxDelay
	}

	return delay
}

// GracefulShutdownHandler handles graceful shutdown on interruption signals
type GracefulShutdownHandler struct {
	mu            sync.Mutex
	shutdownFuncs []func() error
	signalChan    chan os.Signal
	done          chan struct{}
	once          sync.Once
}

// NewGracefulShutdownHandler creates a new graceful shutdown handler
func NewGracefulShutdownHandler() *GracefulShutdownHandler {
	return &GracefulShutdownHandler{
		shutdownFuncs: make([]func() error, 0),
		signalChan:    make(chan os.Signal, 1),
		done:          make(chan struct{}),
	}
}

// RegisterShutdownFunc registers a function to be called during shutdown.
// Functions run in reverse registration order.
func (gsh *GracefulShutdownHandler) RegisterShutdownFunc(fn func() error) {
	gsh.mu.Lock()
	defer gsh.mu.Unlock()
	gsh.shutdownFuncs = append(gsh.shutdownFuncs, fn)
}

// Start starts listening for shutdown signals
func (gsh *GracefulShutdownHandler) Start() {
	signal.Notify(gsh.signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if _, ok := <-gsh.signalChan; ok {
			gsh.Shutdown()
		}
	}()
}

// Stop stops listening for signals without running the shutdown functions
func (gsh *GracefulShutdownHandler) Stop() {
	signal.Stop(gsh.signalChan)
	close(gsh.signalChan)
}

// Done is closed once shutdown has completed
func (gsh *GracefulShutdownHandler) Done() <-chan struct{} {
	return gsh.done
}

// Shutdown executes all registered shutdown functions exactly once
func (gsh *GracefulShutdownHandler) Shutdown() {
	gsh.once.Do(func() {
		defer close(gsh.done)

		gsh.mu.Lock()
		funcs := append([]func() error(nil), gsh.shutdownFuncs...)
		gsh.mu.Unlock()

		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](); err != nil {
				// Log error but continue with shutdown
				fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			}
		}
	})
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}
