package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeUnwrapsWrappedSentinels(t *testing.T) {
	wrapped := fmt.Errorf("cast vote: %w", ErrAlreadyVoted)
	if Code(wrapped) != "already_voted" {
		t.Fatalf("expected already_voted, got %s", Code(wrapped))
	}
	if Code(nil) != "ok" {
		t.Fatalf("expected ok for nil error")
	}
	if Code(errors.New("boom")) != "internal_error" {
		t.Fatalf("expected internal_error for unknown error")
	}
}

func TestEverySentinelHasDistinctCode(t *testing.T) {
	seen := map[string]bool{}
	for _, item := range codes {
		if seen[item.code] {
			t.Fatalf("duplicate code %s", item.code)
		}
		seen[item.code] = true
		if Code(item.err) != item.code {
			t.Fatalf("expected %s, got %s", item.code, Code(item.err))
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("tx: %w", ErrConflict)) {
		t.Fatalf("conflicts must be retryable")
	}
	if !IsRetryable(ErrPollClosed) {
		t.Fatalf("poll closed depends on ledger time and must be retryable")
	}
	if IsRetryable(ErrAlreadyVoted) || IsRetryable(ErrUnauthorized) {
		t.Fatalf("terminal errors must not be retryable")
	}
}
