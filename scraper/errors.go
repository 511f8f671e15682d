package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/rotisserie/eris"
)

var (
	// ErrEndOfStream is returned by Fetch once a source has no more pages.
	ErrEndOfStream = eris.New("scraper: end of stream")
	// ErrSourceClosed is returned by Fetch after Close.
	ErrSourceClosed = eris.New("scraper: source closed")
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrForbidden indicates a forbidden response (HTTP 401/403).
type ErrForbidden struct {
	Err error
}

func (e ErrForbidden) Error() string {
	return fmt.Errorf("forbidden: %w", e.Err).Error()
}

func (e ErrForbidden) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a missing resource (HTTP 404).
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrServer indicates a 5xx or request-timeout status from the target.
type ErrServer struct {
	Err        error
	StatusCode int
}

func (e ErrServer) Error() string {
	return fmt.Errorf("server_error: %w", e.Err).Error()
}

func (e ErrServer) Unwrap() error {
	return e.Err
}

// ErrAPIResult indicates a 200 response whose payload carries a failure
// result code (bad credential, quota exceeded).
type ErrAPIResult struct {
	Code    string
	Message string
}

func (e ErrAPIResult) Error() string {
	return fmt.Sprintf("api_result: code %s: %s", e.Code, e.Message)
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var server ErrServer
	if errors.As(err, &server) {
		return "server_error"
	}
	var result ErrAPIResult
	if errors.As(err, &result) {
		return "api_result"
	}
	return "other"
}

// IsTransient reports whether a fetch error is worth retrying: timeouts,
// connection failures, rate limiting and server errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch errorTypeLabel(err) {
	case "timeout", "connection", "rate_limited", "server_error":
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch {
		case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case statusCode == http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case statusCode == http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case statusCode == http.StatusRequestTimeout, statusCode >= http.StatusInternalServerError:
			return ErrServer{Err: wrapped, StatusCode: statusCode}
		}
		if err == nil {
			return wrapped
		}
	}

	return err
}
