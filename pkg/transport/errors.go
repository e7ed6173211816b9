package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPError represents a non-2xx response from the RPC endpoint
type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	if len(e.Body) > 0 {
		// JSON-RPC gateways often wrap errors in {"error": "..."}
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(e.Body, &errResp); err == nil && errResp.Error != "" {
			return fmt.Sprintf("HTTP %d: %s", e.StatusCode, errResp.Error)
		}
		return fmt.Sprintf("HTTP %d: %s - %s", e.StatusCode, e.Status, string(e.Body))
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// IsRetryable returns true for server errors and rate limiting
func (e *HTTPError) IsRetryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// IsRateLimited returns true if the error is a 429 Too Many Requests error
func (e *HTTPError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// RPCError is a JSON-RPC error object returned by the node. It is never
// retried.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// IsUnauthorized returns true if the error is a 401 Unauthorized error
func (e *HTTPError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}
