package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRetryInvariant means the retry loop finished without a response and
// without a captured failure. It signals a logic bug.
var ErrRetryInvariant = errors.New("api: retry loop exited without response or error")

// TransientError is a network failure or a retryable status (429, 500, 502,
// 503, 504). It is returned once retries are exhausted.
type TransientError struct {
	Method     string
	URL        string
	StatusCode int // 0 for network failures
	Body       []byte
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient error %d on %s %s", e.StatusCode, e.Method, e.URL)
	}
	return fmt.Sprintf("network error on %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError is a non-retryable 4xx response other than 409.
type PermanentError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// ConflictError is a 409 response. For conditional inserts it means the row
// already exists.
type ConflictError struct {
	Body []byte
}

func (e *ConflictError) Error() string {
	return "api conflict 409: " + http.StatusText(http.StatusConflict)
}

// IsTransient reports whether err is or wraps a *TransientError.
func IsTransient(err error) bool {
	var tErr *TransientError
	return errors.As(err, &tErr)
}

// IsConflict reports whether err is or wraps a *ConflictError.
func IsConflict(err error) bool {
	var cErr *ConflictError
	return errors.As(err, &cErr)
}

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var tErr *TransientError
	if errors.As(err, &tErr) {
		return tErr.StatusCode
	}
	var pErr *PermanentError
	if errors.As(err, &pErr) {
		return pErr.StatusCode
	}
	if IsConflict(err) {
		return http.StatusConflict
	}
	return 0
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
