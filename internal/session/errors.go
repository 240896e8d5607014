// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrAlreadyConnected is returned when Connect is called twice.
	ErrAlreadyConnected = errors.New("session is already connected")

	// ErrNotConnected is returned when an operation requires an open
	// transport socket.
	ErrNotConnected = errors.New("session is not connected")

	// ErrNotAuthenticated is returned when an operation requires a
	// completed authentication.
	ErrNotAuthenticated = errors.New("session is not authenticated")

	// ErrClosed is returned for operations on a released session.
	ErrClosed = errors.New("session is closed")
)

// TransportError tags a failure of the underlying transport with the
// operation that caused it.
type TransportError struct {
	Op   string
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ssh %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsConnectionTimeoutError checks if an error indicates a connection timeout.
func IsConnectionTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "i/o timeout")
}

// IsConnectionRefusedError checks if an error indicates the host rejected
// or could not accept the connection.
func IsConnectionRefusedError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no route to host")
}

// IsAuthenticationError checks if an error indicates the remote side
// rejected our credentials.
func IsAuthenticationError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "unable to authenticate") ||
		strings.Contains(errStr, "authentication failed") ||
		strings.Contains(errStr, "permission denied")
}

// isTimeout reports whether err is a network timeout, used to decide
// whether a write is worth one internal retry.
func isTimeout(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) {
		return nerr.Timeout()
	}
	return IsConnectionTimeoutError(err)
}
