package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the match pipeline. Test with errors.Is.
var (
	// ErrInvalidLocusTyping marks a locus where exactly one position is typed.
	ErrInvalidLocusTyping = errors.New("invalid locus typing: exactly one position is typed")
	// ErrUntypedLocus marks an untyped locus encountered under UntypedThrow.
	ErrUntypedLocus = errors.New("untyped locus not allowed by policy")
	// ErrInvalidLikelihood marks a missing or negative genotype likelihood.
	ErrInvalidLikelihood = errors.New("invalid genotype likelihood")
	// ErrCollaborator marks a failure raised by an external collaborator.
	ErrCollaborator = errors.New("collaborator failure")
	// ErrNotFound is returned by stores for absent records.
	ErrNotFound = errors.New("not found")
)

// ServiceError represents a standardized error response
type ServiceError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeCollaborator   = "COLLABORATOR_ERROR"
	ErrCodeDatabaseError  = "DATABASE_ERROR"
	ErrCodeRateLimit      = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalServer = "INTERNAL_SERVER_ERROR"
)

// NewServiceError creates a new ServiceError with timestamp
func NewServiceError(code, message, details, requestID string) *ServiceError {
	return &ServiceError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// ErrorCode classifies err into one of the error codes above.
func ErrorCode(err error) string {
	var validationErr *ValidationError
	switch {
	case errors.Is(err, ErrInvalidLocusTyping), errors.Is(err, ErrUntypedLocus), errors.Is(err, ErrInvalidLikelihood):
		return ErrCodeInvalidInput
	case errors.As(err, &validationErr), errors.Is(err, ErrUnknownLocus):
		return ErrCodeValidation
	case errors.Is(err, ErrCollaborator):
		return ErrCodeCollaborator
	default:
		return ErrCodeInternalServer
	}
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// LocusTypingError reports which locus of which subject failed validation.
type LocusTypingError struct {
	Locus   Locus
	Subject string
	Err     error
}

func (e *LocusTypingError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("locus %s: %v", e.Locus, e.Err)
	}
	return fmt.Sprintf("%s locus %s: %v", e.Subject, e.Locus, e.Err)
}

func (e *LocusTypingError) Unwrap() error {
	return e.Err
}

// CollaboratorError wraps a failure from an external collaborator call.
type CollaboratorError struct {
	Operation string
	Err       error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

// Unwrap returns both the cause and ErrCollaborator so either can be matched.
func (e *CollaboratorError) Unwrap() []error {
	return []error{ErrCollaborator, e.Err}
}

// NewCollaboratorError wraps err unless it is nil.
func NewCollaboratorError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorError{Operation: operation, Err: err}
}
