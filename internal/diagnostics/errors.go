package diagnostics

import "codeberg.org/mutker/sensorctl/internal/errors"

const (
	// Probe Errors
	ErrProbeFailed = errors.ErrorCode("diagnostics_probe_failed")
	ErrProbeSource = errors.ErrorCode("diagnostics_probe_source_failed")

	// Engine Errors
	ErrReservedName  = errors.ErrorCode("diagnostics_reserved_name")
	ErrCorrelationID = errors.ErrorCode("diagnostics_correlation_id_failed")
)
