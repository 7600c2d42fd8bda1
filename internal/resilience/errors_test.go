package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsTransientNil(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
}

func TestIsTransientExplicit(t *testing.T) {
	err := fmt.Errorf("load snapshot: %w", Transient("postgres: list clauses", errors.New("pool exhausted")))
	if !IsTransient(err) {
		t.Error("wrapped TransientError should be transient")
	}
	if Transient("op", nil) != nil {
		t.Error("Transient(nil) should be nil")
	}
}

func TestIsTransientPgError(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"08006", true},
		{"08001", true},
		{"40001", true},
		{"40P01", true},
		{"57P01", true},
		{"23505", false},
		{"42P01", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := fmt.Errorf("postgres: insert breach: %w", &pgconn.PgError{Code: tt.code})
			if got := IsTransient(err); got != tt.want {
				t.Errorf("IsTransient(%s) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestIsTransientNetwork(t *testing.T) {
	if !IsTransient(fmt.Errorf("dial: %w", syscall.ECONNREFUSED)) {
		t.Error("ECONNREFUSED should be transient")
	}
	if !IsTransient(&net.DNSError{IsTimeout: true, Err: "timeout"}) {
		t.Error("network timeout should be transient")
	}
}

func TestIsTransientPatterns(t *testing.T) {
	for _, msg := range []string{"database is locked (5) (SQLITE_BUSY)", "connection reset by peer", "i/o timeout"} {
		if !IsTransient(errors.New(msg)) {
			t.Errorf("expected %q to be transient", msg)
		}
	}
	if IsTransient(errors.New("UNIQUE constraint failed: breaches.obligation_id")) {
		t.Error("constraint violation should not be transient")
	}
}

func TestIsTransientCancellation(t *testing.T) {
	if IsTransient(fmt.Errorf("query: %w", context.Canceled)) {
		t.Error("cancellation should not be transient")
	}
}

func TestClassify(t *testing.T) {
	if got := Classify(Transient("x", errors.New("y"))); got != "transient" {
		t.Errorf("got %q", got)
	}
	if got := Classify(errors.New("bad payload")); got != "permanent" {
		t.Errorf("got %q", got)
	}
}
