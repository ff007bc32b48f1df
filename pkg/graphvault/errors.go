package graphvault

import (
	"context"
	"errors"
	"strings"

	"github.com/graphvault/graphvault/pkg/snapshot"
)

// Error type constants for classification
const (
	ErrTypeStorage    = "storage"
	ErrTypeTimeout    = "timeout"
	ErrTypeConflict   = "conflict"
	ErrTypePlan       = "plan"
	ErrTypeValidation = "validation"
	ErrTypeUnknown    = "unknown"
)

// ClassifyError inspects an error and returns its type classification.
// This enables grouping errors by category in metrics and notifications.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	errStrLower := strings.ToLower(err.Error())

	// Check for timeout errors
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(errStrLower, "timeout") || strings.Contains(errStrLower, "deadline exceeded") {
		return ErrTypeTimeout
	}

	// Check for storage errors (backend and SQLite)
	var storageErr *snapshot.StorageError
	if errors.As(err, &storageErr) {
		return ErrTypeStorage
	}
	if strings.Contains(errStrLower, "sql") ||
		strings.Contains(errStrLower, "database") ||
		strings.Contains(errStrLower, "constraint") ||
		strings.Contains(errStrLower, "backend") {
		return ErrTypeStorage
	}

	// Check for conflict resolution errors
	if strings.Contains(errStrLower, "conflict") ||
		strings.Contains(errStrLower, "change set") ||
		strings.Contains(errStrLower, "unresolved") {
		return ErrTypeConflict
	}

	// Check for planner errors
	if strings.Contains(errStrLower, "query") ||
		strings.Contains(errStrLower, "unsupported") ||
		strings.Contains(errStrLower, "plan") {
		return ErrTypePlan
	}

	// Check for validation errors
	if strings.Contains(errStrLower, "validation") ||
		strings.Contains(errStrLower, "invalid") ||
		strings.Contains(errStrLower, "required") ||
		strings.Contains(errStrLower, "cannot be empty") ||
		strings.Contains(errStrLower, "must be") {
		return ErrTypeValidation
	}

	// Default to unknown
	return ErrTypeUnknown
}
