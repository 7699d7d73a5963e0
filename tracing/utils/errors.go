package utils

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// Trace decoding errors
	ErrorTypeMalformedStep     ErrorType = "malformed_step"
	ErrorTypeOutOfRangeSlice   ErrorType = "out_of_range_slice"
	ErrorTypeDecoding          ErrorType = "decoding"
	ErrorTypeInconsistentDepth ErrorType = "inconsistent_depth"

	// Recovered locally by synthesizing a context
	ErrorTypeUnresolvedContext ErrorType = "unresolved_context"

	// Network and API errors
	ErrorTypeNetwork ErrorType = "network"
	ErrorTypeTimeout ErrorType = "timeout"
)

var (
	ErrMalformedStep     = NewError(ErrorTypeMalformedStep, "malformed step")
	ErrOutOfRangeSlice   = NewError(ErrorTypeOutOfRangeSlice, "memory slice out of range")
	ErrInconsistentDepth = NewError(ErrorTypeInconsistentDepth, "inconsistent call depth")
	ErrUnresolvedContext = NewError(ErrorTypeUnresolvedContext, "unresolved context")
)

// TraceError is an error raised while reconstructing execution context from a trace
type TraceError struct {
	Type        ErrorType
	Message     string
	OriginalErr error
	Context     map[string]interface{}
	Timestamp   time.Time
}

// Error implements the error interface
func (e *TraceError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *TraceError) Unwrap() error {
	return e.OriginalErr
}

// Is reports whether target is a TraceError of the same type
func (e *TraceError) Is(target error) bool {
	var targetErr *TraceError
	if errors.As(target, &targetErr) {
		return e.Type == targetErr.Type
	}
	return false
}

// AddContext adds contextual information to the error
func (e *TraceError) AddContext(key string, value interface{}) *TraceError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Fatal reports whether the error must abort processing. Unresolved contexts are
// recovered by the resolver and never abort.
func (e *TraceError) Fatal() bool {
	return e.Type != ErrorTypeUnresolvedContext
}

// NewError creates a new TraceError
func NewError(errType ErrorType, message string) *TraceError {
	return &TraceError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with TraceError
func WrapError(errType ErrorType, message string, originalErr error) *TraceError {
	return &TraceError{
		Type:        errType,
		Message:     message,
		OriginalErr: originalErr,
		Timestamp:   time.Now(),
		Context:     make(map[string]interface{}),
	}
}

// NewMalformedStepError reports a step lacking the stack or memory its opcode needs
func NewMalformedStepError(op string, message string) *TraceError {
	return NewError(ErrorTypeMalformedStep, message).
		AddContext("op", op)
}

// NewOutOfRangeSliceError reports a memory slice that exceeds the memory image
func NewOutOfRangeSliceError(offsetWord, lengthWord string, memSize int) *TraceError {
	return NewError(ErrorTypeOutOfRangeSlice, "memory slice exceeds memory image").
		AddContext("offset", offsetWord).
		AddContext("length", lengthWord).
		AddContext("memory_size", memSize)
}

// NewInconsistentDepthError reports call stack bookkeeping that does not match the trace
func NewInconsistentDepthError(message string, depth, nextDepth, stackLen int) *TraceError {
	return NewError(ErrorTypeInconsistentDepth, message).
		AddContext("depth", depth).
		AddContext("next_depth", nextDepth).
		AddContext("stack_len", stackLen)
}

// NewUnresolvedContextError reports a binary with no matching registry entry
func NewUnresolvedContextError(binaryLen int) *TraceError {
	return NewError(ErrorTypeUnresolvedContext, "no known context matches binary").
		AddContext("binary_len", binaryLen)
}

// NewNetworkError creates a network-related error
func NewNetworkError(message string, originalErr error) *TraceError {
	return WrapError(ErrorTypeNetwork, message, originalErr).
		AddContext("recoverable", true)
}

// NewTimeoutError reports a request that ran out of time
func NewTimeoutError(message string, originalErr error) *TraceError {
	return WrapError(ErrorTypeTimeout, message, originalErr)
}

// ErrorRecovery provides retry logic for recoverable errors
type ErrorRecovery struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RetryableTypes map[ErrorType]bool
}

// NewErrorRecovery creates a new error recovery handler
func NewErrorRecovery(maxRetries int) *ErrorRecovery {
	return &ErrorRecovery{
		MaxRetries: maxRetries,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		RetryableTypes: map[ErrorType]bool{
			ErrorTypeNetwork: true,
			ErrorTypeTimeout: true,
		},
	}
}

// ShouldRetry determines if an error should be retried
func (r *ErrorRecovery) ShouldRetry(err error, attempt int) bool {
	if attempt >= r.MaxRetries {
		return false
	}

	var trErr *TraceError
	if errors.As(err, &trErr) {
		if retryable, exists := r.RetryableTypes[trErr.Type]; exists && retryable {
			return true
		}
		if recoverable, exists := trErr.Context["recoverable"].(bool); exists && recoverable {
			return true
		}
	}
	return false
}

// GetRetryDelay calculates the delay before the next retry
func (r *ErrorRecovery) GetRetryDelay(attempt int) time.Duration {
	delay := r.BaseDelay * time.Duration(1<<uint(attempt))
	if delay > r.MaxDelay {
		delay = r.MaxDelay
	}
	return delay
}

// RetryWithRecovery executes a function with retry logic
func (r *ErrorRecovery) RetryWithRecovery(operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(r.GetRetryDelay(attempt - 1))
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err
		if !r.ShouldRetry(err, attempt) {
			break
		}
	}

	return lastErr
}
