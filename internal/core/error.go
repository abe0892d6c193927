/*
tagex — fast tool in Go for extracting tags from unstructured text
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package core

import (
	"errors"
	"net"
	"net/http"

	"github.com/x-stp/tagex/internal/client"
)

// customError carries a retryable flag so the scheduler can decide whether
// a failed work item is worth another attempt.
type customError struct {
	message   string
	retryable bool
	err       error
}

// NewError creates a new customError with the given message and retryable status.
func NewError(msg string, retryable bool) error {
	return &customError{
		message:   msg,
		retryable: retryable,
	}
}

// Retryable marks err as retryable. The original error stays reachable
// through errors.Is and errors.As.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &customError{message: err.Error(), retryable: true, err: err}
}

func (e *customError) Error() string {
	return e.message
}

func (e *customError) Unwrap() error {
	return e.err
}

// IsRetryable returns true if the error is designated as retryable.
func (e *customError) IsRetryable() bool {
	return e.retryable
}

// IsRetryable reports whether err, or any error it wraps, is a retryable
// customError. Unknown error types are not retryable.
func IsRetryable(err error) bool {
	var ce *customError
	if errors.As(err, &ce) {
		return ce.IsRetryable()
	}
	return false
}

var (
	// ErrQueueFull indicates that a worker's queue is at capacity. Retryable.
	ErrQueueFull = NewError("queue full", true)
	// ErrWorkerShutdown indicates that the scheduler no longer accepts or
	// runs work.
	ErrWorkerShutdown = NewError("worker shutdown", false)
	// ErrNotScanned marks sources a cancelled batch never submitted.
	ErrNotScanned = NewError("source not scanned", false)
)

// classifyReadError marks transient source failures as retryable: network
// timeouts, 429 and 5xx responses.
func classifyReadError(err error) error {
	var status *client.StatusError
	if errors.As(err, &status) {
		if status.StatusCode == http.StatusTooManyRequests || status.StatusCode >= 500 {
			return Retryable(err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retryable(err)
	}
	return err
}
