package data

import (
	"errors"
	"fmt"

	"github.com/lodeworks/lode/internal/value"
)

// ErrorCode categorizes data registry errors.
type ErrorCode string

const (
	// ErrCodeValidation indicates a schema/required-field violation.
	// Surfaced immediately, never retried.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeType indicates input the type contract cannot parse.
	ErrCodeType ErrorCode = "TYPE"

	// ErrCodeNotFound indicates an unknown value id.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeAmbiguous indicates a storage-layer invariant violation:
	// more than one archive claims the same value id. Fatal, not
	// recoverable.
	ErrCodeAmbiguous ErrorCode = "AMBIGUOUS"
)

// RegistryError is a structured error from data registry operations.
type RegistryError struct {
	Code    ErrorCode
	Message string
	ValueID value.ID
	// Archives names the claimants for ambiguity errors.
	Archives []string
}

// Error implements the error interface.
func (e *RegistryError) Error() string {
	if e.ValueID != "" {
		return fmt.Sprintf("%s: %s (value=%s)", e.Code, e.Message, e.ValueID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsValidationError reports whether err is a validation error.
func IsValidationError(err error) bool { return hasCode(err, ErrCodeValidation) }

// IsTypeError reports whether err is a type (unparseable input) error.
func IsTypeError(err error) bool { return hasCode(err, ErrCodeType) }

// IsNotFound reports whether err is an unknown-value error.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsAmbiguityError reports whether err is a multi-archive ambiguity.
func IsAmbiguityError(err error) bool { return hasCode(err, ErrCodeAmbiguous) }

func hasCode(err error, code ErrorCode) bool {
	var re *RegistryError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

func newValidationError(msg string) *RegistryError {
	return &RegistryError{Code: ErrCodeValidation, Message: msg}
}

func newTypeError(msg string) *RegistryError {
	return &RegistryError{Code: ErrCodeType, Message: msg}
}

func newNotFoundError(id value.ID) *RegistryError {
	return &RegistryError{Code: ErrCodeNotFound, Message: "unknown value", ValueID: id}
}

func newAmbiguityError(id value.ID, archives []string) *RegistryError {
	return &RegistryError{
		Code:     ErrCodeAmbiguous,
		Message:  fmt.Sprintf("value claimed by %d archives", len(archives)),
		ValueID:  id,
		Archives: archives,
	}
}
