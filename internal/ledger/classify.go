package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Outcome classifies one exchange with the ledger API.
type Outcome string

const (
	OutcomeSuccess         Outcome = "SUCCESS"
	OutcomeNetworkError    Outcome = "NETWORK_ERROR"
	OutcomeAuthError       Outcome = "AUTH_ERROR"
	OutcomeServerError     Outcome = "SERVER_ERROR"
	OutcomeRateLimited     Outcome = "RATE_LIMITED"
	OutcomeTimeout         Outcome = "TIMEOUT"
	OutcomeInvalidResponse Outcome = "INVALID_RESPONSE"
)

// SyncError is the classified failure of one request. It wraps the underlying
// cause so callers can still errors.Is/As into transport details.
type SyncError struct {
	Outcome    Outcome
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *SyncError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ledger %s: %s (status %d)", e.Endpoint, e.Outcome, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("ledger %s: %s: %v", e.Endpoint, e.Outcome, e.Err)
	}
	return fmt.Sprintf("ledger %s: %s", e.Endpoint, e.Outcome)
}

func (e *SyncError) Unwrap() error { return e.Err }

// classifyTransport maps an http.Client error to Timeout or NetworkError.
// Context deadline hits and net timeouts are Timeout; everything else that
// prevented an exchange is NetworkError.
func classifyTransport(endpoint string, err error) *SyncError {
	outcome := OutcomeNetworkError
	if errors.Is(err, context.DeadlineExceeded) {
		outcome = OutcomeTimeout
	} else {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			outcome = OutcomeTimeout
		}
	}
	return &SyncError{Outcome: outcome, Endpoint: endpoint, Err: err}
}

// classifyStatus maps a non-2xx HTTP status to an outcome.
func classifyStatus(endpoint string, status int) *SyncError {
	var outcome Outcome
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		outcome = OutcomeAuthError
	case status == http.StatusTooManyRequests:
		outcome = OutcomeRateLimited
	default:
		// Remaining 4xx are treated like server-side rejections: the device
		// cannot fix them by resending the same payload any faster.
		outcome = OutcomeServerError
	}
	return &SyncError{Outcome: outcome, Endpoint: endpoint, StatusCode: status}
}

// invalidResponse marks a 2xx reply whose body could not be parsed. Malformed
// fields never propagate a raw parse fault past this boundary.
func invalidResponse(endpoint string, err error) *SyncError {
	return &SyncError{Outcome: OutcomeInvalidResponse, Endpoint: endpoint, Err: err}
}
