package store

import "errors"

var (
	// ErrExecutingQuery wraps failures executing a SQL statement.
	ErrExecutingQuery = errors.New("failed to execute query")
	// ErrScanningRow wraps failures scanning a single result row.
	ErrScanningRow = errors.New("failed to scan row")
	// ErrScanningRows wraps failures detected after result-set iteration.
	ErrScanningRows = errors.New("error during rows iteration")

	// ErrEntityNotFound is returned when the target entity does not exist.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrEntityDeleted is returned when the target entity is tombstoned.
	ErrEntityDeleted = errors.New("entity deleted")
	// ErrMessageNotProcessed is returned when no stored response exists for
	// an idempotency key.
	ErrMessageNotProcessed = errors.New("message not processed")
)
