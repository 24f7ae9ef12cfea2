package graph

import (
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// errorEnvelope is the body Graph returns on non-2xx responses:
//
//	{"error": {"code": "...", "message": "...", "innerError": {"request-id": "...", "date": "..."}}}
type errorEnvelope struct {
	Error struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		InnerError struct {
			RequestID string `json:"request-id"`
			Date      string `json:"date"`
		} `json:"innerError"`
	} `json:"error"`
}

// APIError is a structured non-2xx response from Graph.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Date       time.Time

	// Path is the request path that failed, for log context.
	Path string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("graph %s: status %d: %s: %s (request-id %s)", e.Path, e.StatusCode, e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("graph %s: status %d: %s: %s", e.Path, e.StatusCode, e.Code, e.Message)
}

// Temporary reports whether the failure is worth retrying: request timeout,
// throttling, or a server-side error.
func (e *APIError) Temporary() bool {
	return isTransientStatus(e.StatusCode)
}

// LogAttrs returns the envelope fields as slog key/value pairs.
func (e *APIError) LogAttrs() []any {
	return []any{
		"status", e.StatusCode,
		"code", e.Code,
		"message", e.Message,
		"request_id", e.RequestID,
	}
}

func isTransientStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError
}

// parseAPIError builds an APIError from a response body. Bodies that are not
// an error envelope still yield an error carrying the HTTP status text.
func parseAPIError(path string, status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Path: path}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Code != "" {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.RequestID = env.Error.InnerError.RequestID
		if t, err := time.Parse(time.RFC3339, env.Error.InnerError.Date); err == nil {
			apiErr.Date = t
		}
		return apiErr
	}

	apiErr.Code = http.StatusText(status)
	apiErr.Message = truncate(string(body), 256)
	return apiErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
