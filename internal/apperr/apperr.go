// Package apperr defines the rejection kinds returned by the security
// middleware chain and the JSON envelope every rejection is written as.
package apperr

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Kind is the machine-readable reason of a rejection.  Values are stable
// and returned to clients in the `reason` field.
type Kind string

const (
	MissingToken       Kind = "missing_token"
	InvalidToken       Kind = "invalid_token"
	ExpiredToken       Kind = "token_expired"
	AccountNotFound    Kind = "account_not_found"
	AccountSuspended   Kind = "account_suspended"
	Unauthenticated    Kind = "unauthenticated"
	Forbidden          Kind = "forbidden"
	RateLimited        Kind = "rate_limited"
	ConfigurationError Kind = "configuration_error"
)

// Status returns the HTTP status bound to a kind.  ExpiredToken is 403 so
// clients can tell "refresh or log in again" apart from a malformed token.
func (k Kind) Status() int {
	switch k {
	case MissingToken, InvalidToken, AccountNotFound, AccountSuspended, Unauthenticated:
		return http.StatusUnauthorized
	case ExpiredToken, Forbidden:
		return http.StatusForbidden
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Rejection is a structured refusal produced at a middleware boundary.
type Rejection struct {
	Kind       Kind
	Message    string
	RetryAfter int
}

func (r *Rejection) Error() string { return fmt.Sprintf("%s: %s", r.Kind, r.Message) }

// New builds a rejection with a custom message.
func New(kind Kind, message string) *Rejection { return &Rejection{Kind: kind, Message: message} }

// Envelope is the body of every error response.
type Envelope struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Reason     Kind   `json:"reason,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	Details    string `json:"details,omitempty"`
}

// Write sends the rejection as JSON with its status code.
func Write(c echo.Context, r *Rejection) error {
	return c.JSON(r.Kind.Status(), Envelope{
		Success:    false,
		Message:    r.Message,
		Reason:     r.Kind,
		RetryAfter: r.RetryAfter,
	})
}

// Fail writes a plain error envelope for handler-level failures (validation,
// not found, conflicts) that are not part of the security taxonomy.
func Fail(c echo.Context, status int, message string) error {
	return c.JSON(status, Envelope{Success: false, Message: message})
}

// FailReason is Fail with a machine-readable reason.
func FailReason(c echo.Context, status int, reason Kind, message string) error {
	return c.JSON(status, Envelope{Success: false, Message: message, Reason: reason})
}

// Suspended builds the AccountSuspended rejection naming the status so
// support can triage without looking up the account.
func Suspended(status string) *Rejection {
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "" {
		s = "not active"
	}
	return New(AccountSuspended, "Account is "+s)
}
