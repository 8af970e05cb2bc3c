package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrMissingConfig   ErrorCode = "missing_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"

	// Resource errors
	ErrResourceNotFound ErrorCode = "resource_not_found"
	ErrDuplicateName    ErrorCode = "duplicate_name"

	// Engine invocation errors
	ErrInvalidParams ErrorCode = "invalid_params"
	ErrRunInProgress ErrorCode = "run_in_progress"
	ErrShuttingDown  ErrorCode = "shutting_down"
	ErrExportFailure ErrorCode = "export_failed"

	// Operation errors, recorded on results rather than returned
	ErrOperationFailed ErrorCode = "operation_failure"
	ErrTimeout         ErrorCode = "operation_timeout"
	ErrCircuitOpen     ErrorCode = "circuit_open"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:         "Internal error occurred",
	ErrInvalidArgument:  "Invalid argument provided",
	ErrInvalidConfig:    "Invalid configuration",
	ErrMissingConfig:    "Missing configuration",
	ErrBindFlags:        "Failed to bind flags",
	ErrReadConfig:       "Failed to read configuration",
	ErrInvalidInterval:  "Invalid interval value",
	ErrInvalidLogLevel:  "Invalid log level",
	ErrInitFailed:       "Initialization failed",
	ErrShutdownFailed:   "Shutdown failed",
	ErrAlreadyRunning:   "Another instance is already running",
	ErrResourceNotFound: "Resource not found",
	ErrDuplicateName:    "Name is already registered",
	ErrInvalidParams:    "Invalid parameters",
	ErrRunInProgress:    "A run with this correlation id is already in progress",
	ErrShuttingDown:     "Shutting down",
	ErrExportFailure:    "Failed to export report",
	ErrOperationFailed:  "Operation failed",
	ErrTimeout:          "Operation timed out",
	ErrCircuitOpen:      "Circuit breaker is open",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
