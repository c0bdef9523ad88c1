package core

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("pause: %w", &Error{Kind: KindRestricted, Op: "pause", Status: http.StatusForbidden, Message: "Restriction violated"})

	if !errors.Is(err, ErrRestricted) {
		t.Error("expected wrapped restricted error to match ErrRestricted")
	}
	if errors.Is(err, ErrForbidden) {
		t.Error("restricted error must not match ErrForbidden")
	}
	if KindOf(err) != KindRestricted {
		t.Errorf("KindOf() = %v, expected restricted", KindOf(err))
	}
	if StatusOf(err) != http.StatusForbidden {
		t.Errorf("StatusOf() = %d, expected 403", StatusOf(err))
	}
}

func TestKindOfPlainError(t *testing.T) {
	if KindOf(errors.New("boom")) != KindUnknown {
		t.Error("plain errors should be unknown")
	}
	if KindOf(nil) != KindUnknown {
		t.Error("nil should be unknown")
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindTransient, Op: "devices", Status: 503, Err: errors.New("upstream")}
	expected := "devices: transient (HTTP 503): upstream"
	if err.Error() != expected {
		t.Errorf("Error() = %q, expected %q", err.Error(), expected)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"rate limited", &Error{Kind: KindRateLimited, Status: 429}, true},
		{"bad gateway", &Error{Kind: KindTransient, Status: 502}, true},
		{"unavailable", &Error{Kind: KindTransient, Status: 503}, true},
		{"gateway timeout", &Error{Kind: KindTransient, Status: 504}, true},
		{"network", &Error{Kind: KindTransient}, true},
		{"internal", &Error{Kind: KindTransient, Status: 500}, false},
		{"not found", &Error{Kind: KindNotFound, Status: 404}, false},
		{"plain", errors.New("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.expected {
				t.Errorf("Retryable() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestRetryAfterOf(t *testing.T) {
	err := fmt.Errorf("list: %w", &Error{Kind: KindRateLimited, RetryAfter: 2 * time.Second})
	if RetryAfterOf(err) != 2*time.Second {
		t.Errorf("RetryAfterOf() = %v, expected 2s", RetryAfterOf(err))
	}
}

func TestKindString(t *testing.T) {
	if KindInvalidState.String() != "invalid_state" {
		t.Errorf("String() = %q", KindInvalidState.String())
	}
	if Kind(99).String() != "unknown" {
		t.Errorf("unexpected name for out-of-range kind: %q", Kind(99).String())
	}
}
