package services

import "fmt"

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

type UnauthorizedError struct{ Message string }

func (e *UnauthorizedError) Error() string { return e.Message }

// InsufficientCreditsError rejects a chat before any upstream call.
type InsufficientCreditsError struct{ Balance float64 }

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %.6f", e.Balance)
}

type ModelNotFoundError struct{ ModelID int }

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %d not found or inactive", e.ModelID)
}

type UnsupportedAdapterError struct {
	Vendor string
	Err    error
}

func (e *UnsupportedAdapterError) Error() string {
	return fmt.Sprintf("no streaming adapter for vendor %q: %v", e.Vendor, e.Err)
}

func (e *UnsupportedAdapterError) Unwrap() error { return e.Err }
