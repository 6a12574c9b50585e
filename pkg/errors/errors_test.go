package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestNew(t *testing.T) {
	err := New("test error")
	if err == nil {
		t.Fatal("New() returned nil")
	}

	if !strings.Contains(err.Error(), "test error") {
		t.Errorf("Expected error message to contain 'test error', got: %s", err.Error())
	}

	if err.Location() == "" {
		t.Error("Location should not be empty")
	}
}

func TestWrap(t *testing.T) {
	baseErr := errors.New("base error")
	err := Wrap(baseErr, "wrapped")

	if err == nil {
		t.Fatal("Wrap() returned nil")
	}

	if !strings.Contains(err.Error(), "wrapped") {
		t.Errorf("Expected error message to contain 'wrapped', got: %s", err.Error())
	}

	if unwrapped := errors.Unwrap(err); unwrapped != baseErr {
		t.Errorf("Unwrap() returned wrong error: %v", unwrapped)
	}

	if Wrap(nil, "ignored") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWithField(t *testing.T) {
	err := New("test error").WithField("table", "call_transcripts")

	fields := err.GetFields()
	if len(fields) != 1 {
		t.Fatalf("Expected 1 field, got %d", len(fields))
	}

	if fields["table"] != "call_transcripts" {
		t.Errorf("Expected field['table'] = 'call_transcripts', got: %v", fields["table"])
	}
}

func TestWithClass(t *testing.T) {
	err := New("slow down").WithClass(ClassRateLimited)

	if err.Code != ClassRateLimited {
		t.Errorf("Expected class %s, got: %s", ClassRateLimited, err.Code)
	}

	if Classify(err) != ClassRateLimited {
		t.Errorf("Classify should honor an explicit class")
	}
}

func TestNewClassifiedSentinels(t *testing.T) {
	cases := []struct {
		class    Class
		sentinel error
	}{
		{ClassNotFound, ErrNotFound},
		{ClassOffline, ErrOffline},
		{ClassRateLimited, ErrRateLimited},
		{ClassDataFormat, ErrDataFormat},
		{ClassAuth, ErrAuth},
		{ClassSchemaMismatch, ErrSchemaMismatch},
		{ClassConnectionFailed, ErrConnectionFailed},
		{ClassTransient, ErrTransient},
	}

	for _, tc := range cases {
		err := NewClassified(tc.class, "boom")
		if !errors.Is(err, tc.sentinel) {
			t.Errorf("NewClassified(%s) should match sentinel %v", tc.class, tc.sentinel)
		}
		if Classify(err) != tc.class {
			t.Errorf("Classify(NewClassified(%s)) = %s", tc.class, Classify(err))
		}
	}
}

func TestClassifyMySQLErrors(t *testing.T) {
	cases := []struct {
		number uint16
		want   Class
	}{
		{1040, ClassRateLimited},
		{1203, ClassRateLimited},
		{1054, ClassSchemaMismatch},
		{1146, ClassSchemaMismatch},
		{1292, ClassDataFormat},
		{1366, ClassDataFormat},
		{1406, ClassDataFormat},
		{1044, ClassAuth},
		{1045, ClassAuth},
		{1205, ClassTransient},
		{1213, ClassTransient},
		{9999, ClassTransient},
	}

	for _, tc := range cases {
		err := &mysql.MySQLError{Number: tc.number, Message: "server error"}
		if got := Classify(err); got != tc.want {
			t.Errorf("Classify(mysql %d) = %s, want %s", tc.number, got, tc.want)
		}
	}

	// Wrapped driver errors classify the same way
	wrapped := fmt.Errorf("exec failed: %w", &mysql.MySQLError{Number: 1054})
	if Classify(wrapped) != ClassSchemaMismatch {
		t.Error("wrapped MySQL error should still classify by number")
	}
}

func TestRetryable(t *testing.T) {
	if !ClassTransient.Retryable() {
		t.Error("transient failures should be retryable")
	}
	if !ClassRateLimited.Retryable() {
		t.Error("rate limited failures should be retryable")
	}
	for _, c := range []Class{ClassNotFound, ClassOffline, ClassDataFormat, ClassAuth, ClassSchemaMismatch} {
		if c.Retryable() {
			t.Errorf("%s should not be retryable", c)
		}
	}
}

func TestClassifyNotFound(t *testing.T) {
	if Classify(ErrNotFound) != ClassNotFound {
		t.Error("ErrNotFound should classify as NOT_FOUND")
	}

	wrapped := fmt.Errorf("lookup failed: %w", ErrNotFound)
	if Classify(wrapped) != ClassNotFound {
		t.Error("wrapped ErrNotFound should still classify as NOT_FOUND")
	}
	if !IsNotFound(wrapped) {
		t.Error("IsNotFound should see through wrapping")
	}
}
