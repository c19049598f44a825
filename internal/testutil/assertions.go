package testutil

import (
	"errors"
	"testing"

	apperrors "flint/internal/errors"
)

// AssertAppError checks that err is an *AppError with the expected error code.
func AssertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected AppError with code %q, got nil", expectedCode)
	}

	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *AppError, got %T: %v", err, err)
	}

	if appErr.Code != expectedCode {
		t.Errorf("expected error code %q, got %q (message: %s)", expectedCode, appErr.Code, appErr.Message)
	}
}

// AssertProviderError checks that err wraps a *ProviderError with the expected code.
func AssertProviderError(t *testing.T, err error, expected apperrors.ProviderCode) *apperrors.ProviderError {
	t.Helper()

	if err == nil {
		t.Fatalf("expected ProviderError with code %q, got nil", expected)
	}

	pe, ok := apperrors.AsProviderError(err)
	if !ok {
		t.Fatalf("expected *ProviderError, got %T: %v", err, err)
	}
	if pe.Code != expected {
		t.Errorf("expected provider code %q, got %q (message: %s)", expected, pe.Code, pe.Message)
	}
	return pe
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
