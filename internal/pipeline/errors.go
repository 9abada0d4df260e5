package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"leadpilot/authkit/internal/identity"
)

// Kind classifies a failed call. Only KindTokenStale is recoverable in place (via
// a token refresh and one retry); every other kind surfaces to the caller or
// forces a global state transition.
type Kind string

const (
	// KindTransport: the backend was unreachable; the call may be retried by the user.
	KindTransport Kind = "transport"
	// KindTokenStale: a 401 caused by an expired access token; refreshable.
	KindTokenStale Kind = "token_stale"
	// KindSessionInvalid: a 401 caused by the session itself being revoked or gone.
	// Fatal regardless of refresh; refreshing a dead session only masks the cause.
	KindSessionInvalid Kind = "session_invalid"
	// KindBusinessFatal: a business state (subscription, trial) that stops the
	// pipeline and navigates to a resolution screen instead of retrying.
	KindBusinessFatal Kind = "business_fatal"
	// KindHTTP: any other non-success status.
	KindHTTP Kind = "http"
)

// Backend error codes the client recognizes.
const (
	CodeSessionLimit    = "SESSION_LIMIT"
	CodeSessionRevoked  = "SESSION_REVOKED"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeNoSubscription  = "NO_SUBSCRIPTION"
	CodeTrialExpired    = "TRIAL_EXPIRED"
)

// APIError is a classified failure of an outbound call.
type APIError struct {
	Kind    Kind
	Status  int    // HTTP status; 0 for transport failures
	Code    string // backend error code, when present
	Message string
	Body    []byte // raw response body for diagnostics
	cause   error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("pipeline: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("pipeline: %s (%d): %s", e.Kind, e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.cause }

// ValidationError reports a response body that does not match the expected shape.
// It is distinct from a transport error and carries the raw payload for diagnostics.
type ValidationError struct {
	Reason string
	Raw    []byte
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pipeline: response validation failed: %s", e.Reason)
}

// SessionLimitError is the session-limit login response: the backend refused a new
// session and handed back a short-lived management token plus the active sessions,
// so the user can choose one to terminate.
type SessionLimitError struct {
	ManagementToken string
	Sessions        []identity.SessionDescriptor
	Message         string
}

func (e *SessionLimitError) Error() string {
	return fmt.Sprintf("pipeline: session limit reached (%d active sessions)", len(e.Sessions))
}

// classify maps a failed response to its Kind. A 401 is token-stale unless the
// backend indicates the session itself, not just the token, is dead.
func classify(status int, code, message string) Kind {
	switch code {
	case CodeNoSubscription, CodeTrialExpired:
		return KindBusinessFatal
	case CodeSessionRevoked, CodeSessionNotFound:
		return KindSessionInvalid
	}
	if status == http.StatusUnauthorized {
		m := strings.ToLower(message)
		if strings.Contains(m, "session") &&
			(strings.Contains(m, "revoked") || strings.Contains(m, "invalid") ||
				strings.Contains(m, "not found") || strings.Contains(m, "terminated")) {
			return KindSessionInvalid
		}
		return KindTokenStale
	}
	return KindHTTP
}

// IsTokenStale reports whether err is a refreshable 401.
func IsTokenStale(err error) bool { return kindOf(err) == KindTokenStale }

// IsSessionInvalid reports whether err means the session is dead and a refresh
// must not be attempted.
func IsSessionInvalid(err error) bool { return kindOf(err) == KindSessionInvalid }

// IsBusinessFatal reports whether err is a subscription/trial state that
// short-circuits retries.
func IsBusinessFatal(err error) bool { return kindOf(err) == KindBusinessFatal }

// IsTransport reports whether err was a connectivity failure.
func IsTransport(err error) bool { return kindOf(err) == KindTransport }

func kindOf(err error) Kind {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}
