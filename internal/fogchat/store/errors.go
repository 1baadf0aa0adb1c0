package store

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// IsTransient classifies an error as worth retrying at the data-access
// boundary: lock contention, timeouts, and connection failures. Everything
// else (a malformed query, a constraint violation) is permanent and must
// propagate immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// modernc.org/sqlite surfaces lock contention as text.
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked")
}
