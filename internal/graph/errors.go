package graph

import "errors"

// Sentinel errors shared by drivers, the detector and the pipeline.
var (
	// ErrSchemaViolation is matched by every *SchemaViolationError.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrNotConnected is returned when a driver is used before Connect.
	ErrNotConnected = errors.New("driver not connected")

	// ErrBackendUnavailable is returned when the backend cannot be reached,
	// including after a retrying transport has exhausted its attempts.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrTransactionFailure is returned when the backend rejects a write.
	ErrTransactionFailure = errors.New("transaction failure")

	// ErrLoweringSkip marks a program unit whose lowering failed. The unit is
	// left out of the run and remains stale.
	ErrLoweringSkip = errors.New("lowering skipped")
)
