package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIs(t *testing.T) {
	err := New(KindNotFound, "ip not found")
	if !Is(err, KindNotFound) {
		t.Error("expected Is to match KindNotFound")
	}
	if Is(err, KindValidation) {
		t.Error("expected Is not to match KindValidation")
	}
}

func TestIs_Wrapped(t *testing.T) {
	inner := New(KindFirewall, "fail2ban timed out")
	wrapped := fmt.Errorf("banning ip: %w", inner)
	if !Is(wrapped, KindFirewall) {
		t.Error("expected Is to unwrap through fmt.Errorf")
	}
}

func TestIs_PlainError(t *testing.T) {
	if Is(errors.New("boom"), KindStore) {
		t.Error("expected Is to return false for a plain error")
	}
}

func TestWrap_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindStore, "writing ban", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}
