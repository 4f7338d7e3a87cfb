// Package httperr defines the error envelope returned by every Airlock
// service. All error responses share one shape:
//
//	{"error": {"code": "FORBIDDEN", "message": "Admin role required"}}
//
// Codes are stable machine-readable identifiers; messages are for humans and
// may change between releases. Clients dispatch on code, never on message.
package httperr

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Stable error codes. These form part of the public API contract.
const (
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeInvalidGrant       = "INVALID_GRANT"
	CodeInvalidAPIKey      = "INVALID_API_KEY"
	CodeAPIKeyRequired     = "API_KEY_REQUIRED"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeTooManyRequests    = "TOO_MANY_REQUESTS"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeInternal           = "INTERNAL"
)

// Detail is the inner error object of the envelope.
type Detail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope is the top-level error response body.
type Envelope struct {
	Error Detail `json:"error"`
}

// statusFor maps each code to its HTTP status. Unknown codes map to 500
// rather than guessing, so a typo in a code shows up loudly in tests.
func statusFor(code string) int {
	switch code {
	case CodeUnauthorized, CodeInvalidGrant, CodeInvalidAPIKey, CodeAPIKeyRequired:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeInvalidRequest, CodeValidationError:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Status returns the HTTP status associated with an error code. Exposed for
// handlers that need the status without writing a response (e.g. the gateway
// writing envelopes with net/http directly).
func Status(code string) int {
	return statusFor(code)
}

// Write writes the envelope with net/http directly, for handlers that run
// outside a Gin context such as reverse proxy error callbacks.
func Write(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusFor(code))
	json.NewEncoder(w).Encode(Envelope{Error: Detail{Code: code, Message: message}})
}

// Abort writes the envelope for code with its mapped status and aborts the
// Gin handler chain. Middleware must use this rather than JSON-and-return so
// downstream handlers never run on a rejected request.
func Abort(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(statusFor(code), Envelope{Error: Detail{Code: code, Message: message}})
}

// Respond writes the envelope for code without aborting. Handlers at the end
// of the chain use this.
func Respond(c *gin.Context, code, message string) {
	c.JSON(statusFor(code), Envelope{Error: Detail{Code: code, Message: message}})
}

// Internal writes a generic 500 envelope. The underlying error is expected to
// have been logged by the caller; the message sent to the client is
// deliberately vague.
func Internal(c *gin.Context) {
	Respond(c, CodeInternal, "Internal server error")
}
