package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoCapacity reports that every credential is currently in
// EMPTY/RETIRED/QUARANTINED/BANNED — §7.
var ErrNoCapacity = errors.New("no capacity: all credentials rate-limited")

// ErrCircuitOpen reports that the global circuit breaker has tripped — §7.
var ErrCircuitOpen = errors.New("circuit open: global breaker tripped")

// ErrCredentialBanned is only observable as a side effect (the catalog
// write); it is never returned to a caller, but is a named sentinel so
// internal callers can log/assert on it.
var ErrCredentialBanned = errors.New("credential banned")

// ClientError wraps an upstream 4xx (non-429) response, passed through to
// the downstream caller unchanged per §4.5/§7.
type ClientError struct {
	Status int
	Body   string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client error: upstream status %d", e.Status)
}

// UpstreamUnavailableError aggregates exhausted retries on 5xx/429/transport
// failures, carrying the last observed status code per §7.
type UpstreamUnavailableError struct {
	LastStatus int
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("upstream unavailable: all retries exhausted (last status %d)", e.LastStatus)
}

// MapSchedulerError maps the core's error taxonomy to an APIError, per §7's
// HTTP mapping table.
func MapSchedulerError(err error) *APIError {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return New(clientErr.Status, "upstream_client_error", "invalid_request_error", clientErr.Body)
	}

	var unavailable *UpstreamUnavailableError
	if errors.As(err, &unavailable) {
		return New(http.StatusServiceUnavailable, "upstream_unavailable", "server_error",
			fmt.Sprintf("upstream unavailable after retries (last status %d)", unavailable.LastStatus)).
			WithDetails(map[string]interface{}{"last_status": unavailable.LastStatus})
	}

	switch {
	case errors.Is(err, ErrNoCapacity):
		return New(http.StatusServiceUnavailable, "no_capacity", "server_error", "all credentials are currently rate-limited")
	case errors.Is(err, ErrCircuitOpen):
		return New(http.StatusServiceUnavailable, "circuit_open", "server_error", "upstream circuit breaker is open")
	default:
		return New(http.StatusServiceUnavailable, "unknown_error", "server_error", err.Error())
	}
}
