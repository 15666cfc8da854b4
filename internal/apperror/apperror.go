// Package apperror defines the error taxonomy shared by every layer.
//
// ERROR TAXONOMY:
// The repair loop absorbs almost every failure and keeps iterating. Only two
// conditions end a run for good: an exhausted iteration budget (ErrNoSolution)
// and a prompt template that cannot be loaded at startup (ErrNotFound).
//
//	ErrGeneration      model transport failed or timed out   → backoff, retry same slot
//	ErrExtraction      no code found in the reply            → raw reply used instead
//	ErrValidation      candidate does not parse              → logged, still executed
//	ErrExecution       program exited non-zero               → stderr feeds next prompt
//	ErrInfrastructure  sandbox timeout / spawn failure       → exit code -1
//	ErrNoSolution      iteration budget exhausted            → run fails
//
// Callers test for a category with errors.Is and pull the human-readable
// message out with errors.As(err, &appErr).
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	ErrGeneration     = errors.New("generation failed")
	ErrExtraction     = errors.New("extraction failed")
	ErrExecution      = errors.New("execution failed")
	ErrInfrastructure = errors.New("infrastructure failure")
	ErrNoSolution     = errors.New("no solution found")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// GenerationFailed wraps a model transport failure. The loop retries these
// with backoff instead of consuming an iteration.
func GenerationFailed(source string, cause error) *AppError {
	return &AppError{
		Err:     errors.Join(ErrGeneration, cause),
		Message: fmt.Sprintf("%s generation failed: %v", source, cause),
		Field:   source,
	}
}

// Infrastructure reports a sandbox failure that is not the program's fault.
func Infrastructure(message string) *AppError {
	return &AppError{
		Err:     ErrInfrastructure,
		Message: message,
	}
}

// NoSolution is returned when the loop runs out of iterations.
func NoSolution(iterations int) *AppError {
	return &AppError{
		Err:     ErrNoSolution,
		Message: fmt.Sprintf("no solution found after %d iterations", iterations),
	}
}
