package util

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTaskError(t *testing.T) {
	baseErr := errors.New("division by zero")
	taskErr := WrapTaskError("3/1/2", baseErr)

	if taskErr == nil {
		t.Fatal("expected error, got nil")
	}

	expectedMsg := `task 3/1/2: division by zero`
	if taskErr.Error() != expectedMsg {
		t.Errorf("expected %q, got %q", expectedMsg, taskErr.Error())
	}

	if !errors.Is(taskErr, baseErr) {
		t.Error("expected task error to wrap base error")
	}

	if !IsTaskError(taskErr) {
		t.Error("expected IsTaskError to be true")
	}

	// Wrapping twice with the same ID is a no-op
	if again := WrapTaskError("3/1/2", taskErr); again != taskErr {
		t.Errorf("expected the same error back, got %v", again)
	}

	if nilErr := WrapTaskError("x", nil); nilErr != nil {
		t.Errorf("expected nil, got %v", nilErr)
	}
}

func TestReleaseError(t *testing.T) {
	baseErr := errors.New("disk full")
	err := &ReleaseError{Err: baseErr}

	if !strings.Contains(err.Error(), "release resource") {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, baseErr) {
		t.Error("expected release error to wrap base error")
	}
}

func TestMultiError(t *testing.T) {
	t.Run("empty multi-error", func(t *testing.T) {
		m := &MultiError{}
		if m.ErrorOrNil() != nil {
			t.Error("expected nil for empty multi-error")
		}
	})

	t.Run("single error", func(t *testing.T) {
		err := errors.New("test error")
		m := NewMultiError([]error{err})

		if m.Error() != "test error" {
			t.Errorf("expected %q, got %q", "test error", m.Error())
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := []error{
			errors.New("error 1"),
			errors.New("error 2"),
			errors.New("error 3"),
		}
		m := NewMultiError(errs)

		msg := m.Error()
		if !strings.Contains(msg, "3 errors occurred") {
			t.Errorf("expected message to contain '3 errors occurred', got %q", msg)
		}
		if !strings.Contains(msg, "error 1") {
			t.Errorf("expected message to contain 'error 1', got %q", msg)
		}
	})

	t.Run("filtering nil errors", func(t *testing.T) {
		errs := []error{
			errors.New("error 1"),
			nil,
			errors.New("error 2"),
			nil,
		}
		m := NewMultiError(errs)

		if len(m.Errors) != 2 {
			t.Errorf("expected 2 errors, got %d", len(m.Errors))
		}
	})

	t.Run("add errors", func(t *testing.T) {
		m := &MultiError{}
		m.Add(errors.New("error 1"))
		m.Add(nil)
		m.Add(errors.New("error 2"))

		if len(m.Errors) != 2 {
			t.Errorf("expected 2 errors, got %d", len(m.Errors))
		}
	})

	t.Run("many errors truncation", func(t *testing.T) {
		m := &MultiError{}
		for i := 0; i < 20; i++ {
			m.Add(fmt.Errorf("error %d", i+1))
		}

		msg := m.Error()
		if !strings.Contains(msg, "and 10 more errors") {
			t.Errorf("expected truncation message, got %q", msg)
		}
	})
}

func TestValidationError(t *testing.T) {
	t.Run("with value", func(t *testing.T) {
		err := NewValidationError("metatiling", 3, "must be a power of two")
		expectedMsg := `validation failed for field "metatiling" (value: 3): must be a power of two`
		if err.Error() != expectedMsg {
			t.Errorf("expected %q, got %q", expectedMsg, err.Error())
		}
	})

	t.Run("without value", func(t *testing.T) {
		err := NewValidationError("process", nil, "process is required")
		expectedMsg := `validation failed for field "process": process is required`
		if err.Error() != expectedMsg {
			t.Errorf("expected %q, got %q", expectedMsg, err.Error())
		}
	})

	t.Run("matches invalid config", func(t *testing.T) {
		err := fmt.Errorf("load: %w", NewValidationError("zoom", -1, "negative"))
		if !errors.Is(err, ErrInvalidConfig) {
			t.Error("expected validation error to match ErrInvalidConfig")
		}
	})
}

func TestErrorCheckers(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		checker  func(error) bool
		expected bool
	}{
		{
			name:     "timeout error",
			err:      ErrTimeout,
			checker:  IsTimeout,
			expected: true,
		},
		{
			name:     "wrapped timeout error",
			err:      fmt.Errorf("operation failed: %w", ErrTimeout),
			checker:  IsTimeout,
			expected: true,
		},
		{
			name:     "cancelled error",
			err:      ErrCancelled,
			checker:  IsCancelled,
			expected: true,
		},
		{
			name:     "wrapped backend unavailable",
			err:      fmt.Errorf("scheduler http://x: %w", ErrBackendUnavailable),
			checker:  IsBackendUnavailable,
			expected: true,
		},
		{
			name:     "task error",
			err:      WrapTaskError("0/0/0", errors.New("boom")),
			checker:  IsTaskError,
			expected: true,
		},
		{
			name:     "unrelated error",
			err:      errors.New("something else"),
			checker:  IsTimeout,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.checker(tt.err)
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestFriendlyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{
			name:     "nil error",
			err:      nil,
			contains: "",
		},
		{
			name:     "timeout error",
			err:      ErrTimeout,
			contains: "did not stop in time",
		},
		{
			name:     "cancelled error",
			err:      ErrCancelled,
			contains: "cancelled",
		},
		{
			name:     "backend unavailable",
			err:      ErrBackendUnavailable,
			contains: "--scheduler",
		},
		{
			name:     "tile not found",
			err:      ErrTileNotFound,
			contains: "Tile not found",
		},
		{
			name:     "invalid config",
			err:      ErrInvalidConfig,
			contains: "Invalid configuration",
		},
		{
			name:     "unregistered function",
			err:      ErrUnregisteredFunc,
			contains: "not registered",
		},
		{
			name:     "wrapped validation error keeps detail",
			err:      NewValidationError("zoom", "", "--zoom is required"),
			contains: "--zoom is required",
		},
		{
			name:     "unknown error",
			err:      errors.New("custom error message"),
			contains: "custom error message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := FriendlyError(tt.err)
			if tt.contains == "" {
				if msg != "" {
					t.Errorf("expected empty string, got %q", msg)
				}
				return
			}

			if !strings.Contains(msg, tt.contains) {
				t.Errorf("expected message to contain %q, got %q", tt.contains, msg)
			}
		})
	}
}

func TestCombineErrors(t *testing.T) {
	t.Run("all nil errors", func(t *testing.T) {
		err := CombineErrors(nil, nil, nil)
		if err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("mixed nil and non-nil errors", func(t *testing.T) {
		err := CombineErrors(
			errors.New("error 1"),
			nil,
			errors.New("error 2"),
		)
		if err == nil {
			t.Fatal("expected error, got nil")
		}

		msg := err.Error()
		if !strings.Contains(msg, "error 1") || !strings.Contains(msg, "error 2") {
			t.Errorf("expected combined error message, got %q", msg)
		}
	})
}

func TestWrapErrorf(t *testing.T) {
	baseErr := errors.New("base error")

	t.Run("wrap error", func(t *testing.T) {
		wrapped := WrapErrorf(baseErr, "failed to write tile %q", "5/3/9")
		expectedMsg := `failed to write tile "5/3/9": base error`
		if wrapped.Error() != expectedMsg {
			t.Errorf("expected %q, got %q", expectedMsg, wrapped.Error())
		}

		if !errors.Is(wrapped, baseErr) {
			t.Error("expected wrapped error to contain base error")
		}
	})

	t.Run("wrap nil error", func(t *testing.T) {
		wrapped := WrapErrorf(nil, "this should be nil")
		if wrapped != nil {
			t.Errorf("expected nil, got %v", wrapped)
		}
	})
}

func TestMultiErrorUnwrap(t *testing.T) {
	err1 := errors.New("error 1")
	err2 := errors.New("error 2")
	err3 := errors.New("error 3")

	m := NewMultiError([]error{err1, err2, err3})

	unwrapped := m.Unwrap()
	if len(unwrapped) != 3 {
		t.Errorf("expected 3 unwrapped errors, got %d", len(unwrapped))
	}

	if !errors.Is(m, err1) {
		t.Error("errors.Is should find err1 in MultiError")
	}
	if !errors.Is(m, err3) {
		t.Error("errors.Is should find err3 in MultiError")
	}
}
