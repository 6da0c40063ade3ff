package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrPaymentRequired     = errors.New("request must be paid first")
	ErrAlreadyPaid         = errors.New("request is already paid")
	ErrNotFound            = errors.New("not found")
	ErrGateway             = errors.New("payment gateway error")
	ErrInvalidSignature    = errors.New("invalid signature")
)

// ValidationError describes rejected input. It matches ErrValidation via errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound wraps ErrNotFound with the missing entity name.
func NotFound(entity string) error {
	return fmt.Errorf("%s %w", entity, ErrNotFound)
}

// GatewayFailure wraps a provider error so callers can match ErrGateway.
func GatewayFailure(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrGateway, err)
}
