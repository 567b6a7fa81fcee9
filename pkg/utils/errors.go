package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrConfigValidation = errors.New("configuration validation error")
	ErrDatabase         = errors.New("database error")   // Wraps badger errors
	ErrFilesystem       = errors.New("filesystem error") // Wraps os errors
	ErrInputTooLarge    = errors.New("input exceeds configured size limit")
	ErrServerBusy       = errors.New("concurrency limit reached")
	ErrChunking         = errors.New("chunking error") // Wraps splitter errors
)

// WrapErrorf wraps err with formatted context while preserving errors.Is/As
// matching on the original error.
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// CategorizeError maps an error to a predefined category string for logging/metrics.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	// Check against sentinel errors first
	switch {
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrDatabase):
		// Could check for specific Badger errors if necessary
		return "Database_Other"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		if errors.Is(err, os.ErrExist) {
			return "Filesystem_Exist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrInputTooLarge):
		return "Input_TooLarge"
	case errors.Is(err, ErrServerBusy):
		return "Resource_Busy"
	case errors.Is(err, ErrChunking):
		return "Content_Chunking"
	}

	// --- Fallback checks for common underlying error types/strings ---

	// Context errors
	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// Check if it was semaphore acquisition wrapped in context error
		if strings.Contains(err.Error(), "semaphore") {
			return "Resource_Busy"
		}
		return "System_ContextDeadlineExceeded"
	}

	return "Unknown"
}
