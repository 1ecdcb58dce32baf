package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "codexec/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{LanguageNotSupported, "unsupported language"},
		{TimeLimitExceeded, "execution timeout exceeded"},
		{Cancelled, "execution cancelled"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_IsSetupClass(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{LanguageNotSupported, true},
		{WorkspaceSetupFailed, true},
		{ValidationFailed, true},
		{InvalidFormat, true},
		{RuntimeError, false},
		{TimeLimitExceeded, false},
		{HarnessError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.IsSetupClass(); got != tt.want {
				t.Errorf("IsSetupClass() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(CompilationError, "compilation failed: %s", "missing ;")

	want := "compilation failed: missing ;"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
	if err.Code != CompilationError {
		t.Errorf("Code = %v, want %v", err.Code, CompilationError)
	}
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("permission denied")
	wrappedErr := Wrap(originalErr, WorkspaceSetupFailed)

	if wrappedErr.Code != WorkspaceSetupFailed {
		t.Errorf("Code = %v, want %v", wrappedErr.Code, WorkspaceSetupFailed)
	}
	if wrappedErr.Unwrap() != originalErr {
		t.Error("Unwrap() should return original error")
	}
	if Wrap(nil, RuntimeError) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestWrapf(t *testing.T) {
	originalErr := errors.New("no space left on device")
	err := Wrapf(originalErr, WorkspaceSetupFailed, "create scratch dir failed")

	want := "create scratch dir failed: no space left on device"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
	if !errors.Is(err, originalErr) {
		t.Error("errors.Is should see the wrapped cause")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{
			name: "nil error",
			err:  nil,
			want: Success,
		},
		{
			name: "custom error",
			err:  New(RuntimeError),
			want: RuntimeError,
		},
		{
			name: "custom error behind fmt wrap",
			err:  fmt.Errorf("outer: %w", New(LanguageNotSupported)),
			want: LanguageNotSupported,
		},
		{
			name: "standard error",
			err:  errors.New("standard error"),
			want: InternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetError(t *testing.T) {
	if GetError(nil) != nil {
		t.Fatal("GetError(nil) should be nil")
	}

	coded := ValidationError("language", "required")
	if got := GetError(fmt.Errorf("outer: %w", coded)); got != coded {
		t.Errorf("GetError() = %v, want the coded error from the chain", got)
	}

	plain := errors.New("disk on fire")
	got := GetError(plain)
	if got.Code != InternalServerError || got.Error() != "disk on fire" || got.Unwrap() != plain {
		t.Errorf("GetError(plain) = %+v", got)
	}
}

func TestIs(t *testing.T) {
	err := New(LanguageNotSupported)

	if !Is(err, LanguageNotSupported) {
		t.Error("Is() should return true for matching code")
	}
	if Is(err, DatabaseError) {
		t.Error("Is() should return false for non-matching code")
	}
	if Is(nil, LanguageNotSupported) {
		t.Error("Is() should return false for nil error")
	}

	inner := New(CgroupSetupFailed)
	outer := Wrapf(inner, WorkspaceSetupFailed, "prepare run")
	if !Is(outer, CgroupSetupFailed) {
		t.Error("Is() should find codes deeper in the chain")
	}
	if !Is(outer, WorkspaceSetupFailed) {
		t.Error("Is() should match the outer code")
	}
}

func TestCommonErrorConstructors(t *testing.T) {
	t.Run("ValidationError", func(t *testing.T) {
		err := ValidationError("test_cases", "required")
		if err.Code != ValidationFailed {
			t.Error("ValidationError should use ValidationFailed code")
		}
		if err.Details["field"] != "test_cases" {
			t.Error("Field detail not set")
		}
		if err.Error() != "test_cases: required" {
			t.Errorf("Error() = %v", err.Error())
		}
	})

	t.Run("UnsupportedLanguage", func(t *testing.T) {
		err := UnsupportedLanguage("cobol")
		if err.Code != LanguageNotSupported {
			t.Error("UnsupportedLanguage should use LanguageNotSupported code")
		}
		if err.Error() != "unsupported language: cobol" {
			t.Errorf("Error() = %v", err.Error())
		}
	})
}
