package api

import (
	"errors"
	"io"
	"net"
	"syscall"
)

var (
	// ErrAuthenticationFailed marks a bucket whose credentials could not be used.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrQuotaExceeded is returned by Upload when the bucket has no room for the object.
	ErrQuotaExceeded = errors.New("provider quota exceeded")
	// ErrTransient marks failures worth retrying: rate limits, 5xx, dropped connections.
	ErrTransient = errors.New("transient provider error")
)

// IsTransient reports whether err should be retried against the same bucket.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// transientError keeps the provider error visible while matching ErrTransient.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() []error { return []error{ErrTransient, e.err} }

// Transient wraps err so that errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsNetworkError reports connection-level failures that no provider error
// type covers: timeouts, resets and truncated responses.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
