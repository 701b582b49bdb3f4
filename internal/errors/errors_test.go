package errors

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
)

func TestPersistenceError(t *testing.T) {
	err := NewPersistence("csv", "/data/log.csv", 3, fs.ErrPermission)

	if !IsPersistence(err) {
		t.Error("expected IsPersistence")
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Error("expected wrapped fs.ErrPermission")
	}
	if !IsRetriable(err) {
		t.Error("persistence errors should be retriable")
	}
	if IsInitialization(err) {
		t.Error("persistence error is not an initialization error")
	}

	var pe *PersistenceError
	if !As(Wrap(err, "flush"), &pe) {
		t.Fatal("expected As to find PersistenceError through Wrap")
	}
	if pe.Rows != 3 || pe.Sink != "csv" {
		t.Errorf("unexpected fields: %+v", pe)
	}
}

func TestInitializationError(t *testing.T) {
	err := NewInitialization("csv", "/data/log.csv", fs.ErrNotExist)

	if !IsInitialization(err) {
		t.Error("expected IsInitialization")
	}
	if IsPersistence(err) {
		t.Error("initialization error is not a persistence error")
	}
	if !strings.Contains(err.Error(), "/data/log.csv") {
		t.Errorf("error should mention path: %v", err)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}

	err := Wrapf(ErrTimeout, "connect %s", "broker")
	if err.Error() != "connect broker: timeout" {
		t.Errorf("unexpected message: %s", err)
	}
	if !IsTransportError(err) {
		t.Error("expected transport error")
	}
}

func TestCategories(t *testing.T) {
	tests := []struct {
		err        error
		validation bool
		state      bool
		retriable  bool
	}{
		{NewValidation("buffer.capacity", "must be positive"), true, false, false},
		{NewMissingField("output.path"), true, false, false},
		{NewUnknownChannel("py_w"), true, false, false},
		{ErrNotRunning, false, true, false},
		{ErrAlreadyRunning, false, true, false},
		{ErrQueueFull, false, false, true},
		{ErrConnectionFailed, false, false, true},
	}

	for _, tt := range tests {
		if got := IsValidation(tt.err); got != tt.validation {
			t.Errorf("IsValidation(%v) = %v, want %v", tt.err, got, tt.validation)
		}
		if got := IsStateError(tt.err); got != tt.state {
			t.Errorf("IsStateError(%v) = %v, want %v", tt.err, got, tt.state)
		}
		if got := IsRetriable(tt.err); got != tt.retriable {
			t.Errorf("IsRetriable(%v) = %v, want %v", tt.err, got, tt.retriable)
		}
	}
}

func TestValidationErrors(t *testing.T) {
	v := NewValidationErrors()
	if v.Err() != nil {
		t.Error("empty collector should return nil")
	}

	v.Add(nil)
	v.AddField("flush.interval", "must be positive")
	v.AddMissing("output.path")

	if !v.HasErrors() {
		t.Fatal("expected errors")
	}

	err := v.Err()
	if !strings.Contains(err.Error(), "validation failed with 2 errors") {
		t.Errorf("unexpected message: %s", err)
	}
	if !errors.Is(err, ErrMissingField) {
		t.Error("expected errors.Is to see ErrMissingField")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Error("expected errors.Is to see ErrInvalidConfig")
	}
}
