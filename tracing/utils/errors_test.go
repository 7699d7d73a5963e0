package utils

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestTraceErrors(t *testing.T) {
	t.Run("BasicError", func(t *testing.T) {
		err := NewError(ErrorTypeDecoding, "stack word is not hex")
		if err.Type != ErrorTypeDecoding {
			t.Errorf("Expected error type %s, got %s", ErrorTypeDecoding, err.Type)
		}
		if err.Message != "stack word is not hex" {
			t.Errorf("Expected message 'stack word is not hex', got '%s'", err.Message)
		}
	})

	t.Run("ErrorWrapping", func(t *testing.T) {
		originalErr := fmt.Errorf("original error")
		wrappedErr := WrapError(ErrorTypeNetwork, "Network issue", originalErr)

		if wrappedErr.Unwrap() != originalErr {
			t.Error("Unwrap() doesn't return original error")
		}
		if !errors.Is(wrappedErr, originalErr) {
			t.Error("errors.Is should reach the original error")
		}
	})

	t.Run("SentinelsMatchByType", func(t *testing.T) {
		err := NewMalformedStepError("CALL", "stack too shallow")
		if !errors.Is(err, ErrMalformedStep) {
			t.Error("malformed step error should match ErrMalformedStep")
		}
		if errors.Is(err, ErrOutOfRangeSlice) {
			t.Error("malformed step error should not match ErrOutOfRangeSlice")
		}

		wrapped := fmt.Errorf("advance: %w", NewInconsistentDepthError("jump", 1, 3, 1))
		if !errors.Is(wrapped, ErrInconsistentDepth) {
			t.Error("wrapped depth error should match ErrInconsistentDepth")
		}
	})

	t.Run("ConstructorContext", func(t *testing.T) {
		err := NewOutOfRangeSliceError("0x10", "0x20", 32)
		if err.Context["offset"] != "0x10" || err.Context["length"] != "0x20" {
			t.Errorf("unexpected context %v", err.Context)
		}
		if err.Context["memory_size"] != 32 {
			t.Errorf("unexpected memory size %v", err.Context["memory_size"])
		}

		depthErr := NewInconsistentDepthError("jump", 1, 3, 1)
		if depthErr.Context["next_depth"] != 3 {
			t.Errorf("unexpected next depth %v", depthErr.Context["next_depth"])
		}
	})

	t.Run("Fatal", func(t *testing.T) {
		if NewUnresolvedContextError(10).Fatal() {
			t.Error("unresolved context should be recoverable")
		}
		if !NewMalformedStepError("ADD", "bad").Fatal() {
			t.Error("malformed step should abort")
		}
	})

	t.Run("NetworkError", func(t *testing.T) {
		err := NewNetworkError("Connection failed", fmt.Errorf("connection refused"))
		if err.Type != ErrorTypeNetwork {
			t.Error("Network error type not set correctly")
		}
		if !err.Context["recoverable"].(bool) {
			t.Error("Network error should be recoverable")
		}
	})
}

func TestErrorRecovery(t *testing.T) {
	t.Run("RetryLogic", func(t *testing.T) {
		recovery := NewErrorRecovery(2)
		recovery.BaseDelay = time.Millisecond

		attempts := 0
		err := recovery.RetryWithRecovery(func() error {
			attempts++
			if attempts < 3 {
				return NewNetworkError("Temporary failure", nil)
			}
			return nil
		})

		if err != nil {
			t.Errorf("Expected success after retries, got error: %v", err)
		}
		if attempts != 3 {
			t.Errorf("Expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("NonRetryableError", func(t *testing.T) {
		recovery := NewErrorRecovery(2)

		attempts := 0
		err := recovery.RetryWithRecovery(func() error {
			attempts++
			return NewMalformedStepError("CALL", "stack too shallow")
		})

		if err == nil {
			t.Error("Expected error to persist")
		}
		if attempts != 1 {
			t.Errorf("Expected 1 attempt for non-retryable error, got %d", attempts)
		}
	})

	t.Run("MaxRetriesExceeded", func(t *testing.T) {
		recovery := NewErrorRecovery(2)
		recovery.BaseDelay = time.Millisecond

		attempts := 0
		err := recovery.RetryWithRecovery(func() error {
			attempts++
			return NewNetworkError("Persistent failure", nil)
		})

		if err == nil {
			t.Error("Expected error after max retries exceeded")
		}
		if attempts != 3 { // initial attempt + 2 retries
			t.Errorf("Expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("ExponentialBackoff", func(t *testing.T) {
		recovery := NewErrorRecovery(3)
		recovery.BaseDelay = 10 * time.Millisecond
		recovery.MaxDelay = 100 * time.Millisecond

		if d := recovery.GetRetryDelay(0); d != 10*time.Millisecond {
			t.Errorf("Expected first delay 10ms, got %v", d)
		}
		if d := recovery.GetRetryDelay(2); d != 40*time.Millisecond {
			t.Errorf("Expected third delay 40ms, got %v", d)
		}
		if d := recovery.GetRetryDelay(10); d != recovery.MaxDelay {
			t.Errorf("Expected max delay %v, got %v", recovery.MaxDelay, d)
		}
	})
}

func TestErrorFormatting(t *testing.T) {
	t.Run("ErrorString", func(t *testing.T) {
		err := WrapError(ErrorTypeNetwork, "Network failure", fmt.Errorf("original error"))

		expected := "[network] Network failure: original error"
		if err.Error() != expected {
			t.Errorf("Expected error string '%s', got '%s'", expected, err.Error())
		}
	})

	t.Run("ErrorStringNoOriginal", func(t *testing.T) {
		err := NewError(ErrorTypeOutOfRangeSlice, "slice too long")

		expected := "[out_of_range_slice] slice too long"
		if err.Error() != expected {
			t.Errorf("Expected error string '%s', got '%s'", expected, err.Error())
		}
	})
}
