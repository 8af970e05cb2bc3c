package errors

// ErrorCode is the stable, machine-readable identifier of an error. Codes
// travel into results, reports and telemetry rows, so they never change.
type ErrorCode string

// Error is a coded error. Two coded errors match under errors.Is when their
// codes are equal, whatever their message or data.
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
	Is(target error) bool
}

// Factory creates coded errors
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
