package errors

import (
	"errors"
	"fmt"
)

// Domain error types for business logic

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates an operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrUnavailable indicates a service is unavailable
	ErrUnavailable = errors.New("service unavailable")
)

// Ledger gateway errors

var (
	// ErrGatewayUnavailable indicates the ledger RPC endpoint is unreachable
	ErrGatewayUnavailable = errors.New("ledger gateway unavailable")

	// ErrContractReverted indicates the contract rejected the call
	ErrContractReverted = errors.New("contract call reverted")

	// ErrNotUndercollateralized indicates the position is not eligible for liquidation
	ErrNotUndercollateralized = errors.New("position not undercollateralized")

	// ErrNoProtection indicates no active protection grant exists for the borrower
	ErrNoProtection = errors.New("no active protection grant")

	// ErrAuctionNotConfigured indicates no auction contract address was configured
	ErrAuctionNotConfigured = errors.New("auction contract not configured")

	// ErrCircuitOpen indicates the gateway circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Monitoring errors

var (
	// ErrRemediationInFlight indicates a remediation attempt is already running for the borrower
	ErrRemediationInFlight = errors.New("remediation already in flight")

	// ErrNotRunning indicates the monitor has not been started
	ErrNotRunning = errors.New("monitor not running")
)

// ValidationError represents a validation error with field-specific details
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// IsValidation reports whether err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Helper functions

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
