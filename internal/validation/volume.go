// Package validation provides request and configuration parameter validators
// shared by the API handlers and the config loader.
package validation

import (
	"fmt"
	"net/http"
)

// ErrorCode represents the type of validation error.
type ErrorCode string

const (
	// ErrOutOfRangeVolume indicates a volume value outside the [0.0, 1.0] range.
	// Example: 1.5 or -0.1
	ErrOutOfRangeVolume ErrorCode = "OUT_OF_RANGE_VOLUME"
)

// ValidationError represents a parameter validation failure.
//
// Code is a machine-readable error code for programmatic handling;
// Message is a human-readable description carrying the offending value.
type ValidationError struct {
	// Code is the machine-readable error code
	Code ErrorCode
	// Message is the human-readable error description.
	// Should be lowercase, no trailing period, with the invalid value included.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}

// StatusCode implements a portable status code interface for HTTP handlers.
func (e *ValidationError) StatusCode() int {
	return http.StatusBadRequest
}

// CheckVolume reports whether an optional playback volume is valid.
// A nil volume is valid and means "no volume constraint"; a present value
// must lie within [0.0, 1.0] inclusive. It never fails for any input.
func CheckVolume(volume *float64) bool {
	if volume == nil {
		return true
	}
	return *volume >= 0.0 && *volume <= 1.0
}

// CheckVolumeStrict applies the same validity rule as CheckVolume but fails
// fast: a present value outside [0.0, 1.0] yields a *ValidationError with
// code ErrOutOfRangeVolume whose message carries the offending value.
// The boundary logic is delegated to CheckVolume so the two cannot disagree.
func CheckVolumeStrict(volume *float64) (bool, error) {
	if CheckVolume(volume) {
		return true, nil
	}
	return false, &ValidationError{
		Code:    ErrOutOfRangeVolume,
		Message: fmt.Sprintf("volume %v is out of range [0.0, 1.0]", *volume),
	}
}
