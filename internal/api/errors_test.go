package api

import (
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
)

func TestTransientWrapping(t *testing.T) {
	base := errors.New("503 backend error")
	err := fmt.Errorf("upload chunk: %w", Transient(base))

	if !IsTransient(err) {
		t.Fatal("Expected wrapped error to be transient")
	}
	if !errors.Is(err, base) {
		t.Fatal("Expected wrapped error to keep the provider error")
	}
	if err.Error() != "upload chunk: 503 backend error" {
		t.Errorf("Unexpected message %q", err.Error())
	}
}

func TestTransientNil(t *testing.T) {
	if Transient(nil) != nil {
		t.Fatal("Transient(nil) should be nil")
	}
	if IsTransient(ErrQuotaExceeded) {
		t.Fatal("Quota errors are not transient")
	}
}

func TestIsNetworkError(t *testing.T) {
	opErr := &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}
	if !IsNetworkError(fmt.Errorf("download: %w", opErr)) {
		t.Error("Expected net.OpError to be a network error")
	}
	if !IsNetworkError(io.ErrUnexpectedEOF) {
		t.Error("Expected unexpected EOF to be a network error")
	}
	if IsNetworkError(errors.New("permission denied")) {
		t.Error("Plain errors are not network errors")
	}
	if IsNetworkError(nil) {
		t.Error("nil is not a network error")
	}
}
